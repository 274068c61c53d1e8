package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func TestFillQuality(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, QualityExcellent},
		{0.05, QualityExcellent},
		{-0.08, QualityGood},
		{0.15, QualityFair},
		{0.4, QualityPoor},
		{0.51, QualityVeryPoor},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FillQuality(tc.pct), "%v", tc.pct)
	}
}

func TestMeasure(t *testing.T) {
	at := time.Date(2024, 7, 19, 9, 15, 0, 0, time.UTC)

	long := Measure(domain.Signal{Symbol: "RELIANCE", Direction: domain.GapUp, EntryPrice: 2475}, 2480, at, at.Add(2*time.Second))
	assert.InDelta(t, 5, long.Slippage, 1e-9)
	assert.InDelta(t, 0.2020, long.SlippagePercent, 1e-4)
	assert.Equal(t, QualityPoor, long.FillQuality)
	assert.Equal(t, 2*time.Second, long.Delay)

	// Selling higher than expected is a better fill.
	short := Measure(domain.Signal{Symbol: "TCS", Direction: domain.GapDown, EntryPrice: 100}, 100.03, at, at)
	assert.InDelta(t, -0.03, short.Slippage, 1e-9)
	assert.Equal(t, QualityExcellent, short.FillQuality)
}

func TestAnalytics_Summary(t *testing.T) {
	a := NewAnalytics()
	assert.Equal(t, 0, a.Summary().Executions)

	a.Record(domain.ExecutionMetrics{SlippagePercent: 0.1, Delay: time.Second, FillQuality: QualityGood})
	a.Record(domain.ExecutionMetrics{SlippagePercent: -0.02, Delay: 3 * time.Second, FillQuality: QualityExcellent})
	a.Record(domain.ExecutionMetrics{SlippagePercent: 0.6, Delay: 2 * time.Second, FillQuality: QualityVeryPoor})

	s := a.Summary()
	assert.Equal(t, 3, s.Executions)
	assert.InDelta(t, 0.68/3, s.AvgSlippagePercent, 1e-9)
	assert.Equal(t, -0.02, s.MinSlippagePercent)
	assert.Equal(t, 0.6, s.MaxSlippagePercent)
	assert.Equal(t, 2*time.Second, s.AvgDelay)
	assert.Equal(t, 3*time.Second, s.MaxDelay)
	assert.Equal(t, map[string]int{QualityGood: 1, QualityExcellent: 1, QualityVeryPoor: 1}, s.Quality)
}

func TestAnalytics_DailyRollover(t *testing.T) {
	now := time.Date(2024, 7, 19, 15, 0, 0, 0, time.UTC)
	a := NewAnalytics()
	a.now = func() time.Time { return now }

	a.orderPlaced()
	a.orderPlaced()
	a.orderFilled()
	a.orderRejected()
	a.tradeOpened()
	a.tradeClosed(-120)

	d := a.Daily()
	assert.Equal(t, "2024-07-19", d.Date)
	assert.Equal(t, 2, d.OrdersPlaced)
	assert.Equal(t, 1, d.OrdersFilled)
	assert.Equal(t, 1, d.OrdersRejected)
	assert.Equal(t, 1, d.TradesClosed)
	assert.Equal(t, -120.0, d.RealizedPnL)

	now = now.Add(24 * time.Hour)
	assert.Equal(t, DailyStats{Date: "2024-07-20"}, a.Daily())
}

func TestDedup(t *testing.T) {
	now := time.Date(2024, 7, 19, 9, 15, 0, 0, time.UTC)
	d := NewDedup(5 * time.Minute)
	d.now = func() time.Time { return now }

	up := domain.Signal{Symbol: "INFY", Direction: domain.GapUp}
	down := domain.Signal{Symbol: "INFY", Direction: domain.GapDown}

	assert.False(t, d.IsDuplicate(up))
	assert.True(t, d.IsDuplicate(up))
	assert.False(t, d.IsDuplicate(down))

	now = now.Add(5 * time.Minute)
	assert.False(t, d.IsDuplicate(up), "window elapsed")

	d.Forget(up)
	assert.False(t, d.IsDuplicate(up))

	now = now.Add(10 * time.Minute)
	d.Cleanup()
	assert.Equal(t, 0, d.Len())
}

func TestDedup_Disabled(t *testing.T) {
	d := NewDedup(0)
	sig := domain.Signal{Symbol: "INFY", Direction: domain.GapUp}
	assert.False(t, d.IsDuplicate(sig))
	assert.False(t, d.IsDuplicate(sig))
}

func TestLedger(t *testing.T) {
	l := NewLedger(5)
	l.Seed([]float64{0.02, -0.01, 0.03})
	for i := 0; i < 4; i++ {
		l.Add(-0.01)
	}

	stats, err := l.Performance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Trades)
	assert.InDelta(t, 0.2, stats.WinRate, 1e-9)
	assert.Equal(t, 4, stats.ConsecutiveLosses)
}
