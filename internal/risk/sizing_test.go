package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name          string
		in            SizeInput
		wantBase      float64
		wantFinal     float64
		wantRationale string
	}{
		{
			name:          "zero stop distance uses two percent",
			in:            SizeInput{Entry: 100, Stop: 100, Balance: 100000, RiskPerTrade: 0.01, MaxPositionSize: 1e9, VolatilityFactor: 1, PerformanceFactor: 1},
			wantBase:      50000,
			wantFinal:     10000,
			wantRationale: "Base: 50000, Limited by max size (-80%)",
		},
		{
			name:          "adjustments under the cap",
			in:            SizeInput{Entry: 100, Stop: 90, Balance: 100000, RiskPerTrade: 0.002, MaxPositionSize: 1e9, VolatilityFactor: 0.5, PerformanceFactor: 1.2},
			wantBase:      2000,
			wantFinal:     1200,
			wantRationale: "Base: 2000, Volatility reduced by 50%, Performance increased by 20%",
		},
		{
			name:          "absolute cap below ten percent",
			in:            SizeInput{Entry: 50, Stop: 45, Balance: 1000000, RiskPerTrade: 0.02, MaxPositionSize: 25000, VolatilityFactor: 1.03, PerformanceFactor: 1},
			wantBase:      200000,
			wantFinal:     25000,
			wantRationale: "Base: 200000, Limited by max size (-88%)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Size(tt.in)
			assert.InDelta(t, tt.wantBase, d.BaseSize, 1e-6)
			assert.InDelta(t, tt.wantFinal, d.FinalSize, 1e-6)
			assert.Equal(t, tt.wantRationale, d.Rationale)
			assert.InDelta(t, d.FinalSize/tt.in.Balance*100, d.SizePercent, 1e-9)
		})
	}
}

func TestPerformanceFactor(t *testing.T) {
	tests := []struct {
		name  string
		stats domain.PerformanceStats
		want  float64
	}{
		{name: "not enough history", stats: domain.PerformanceStats{Trades: 4, WinRate: 0, ConsecutiveLosses: 4}, want: 1},
		{name: "hot streak", stats: domain.PerformanceStats{Trades: 10, WinRate: 0.8, AvgReturn: 0.06}, want: 1.2 * 1.1},
		{name: "cold streak", stats: domain.PerformanceStats{Trades: 10, WinRate: 0.2, AvgReturn: -0.05, ConsecutiveLosses: 3}, want: 0.7 * 0.8 * 0.5},
		{name: "two losses", stats: domain.PerformanceStats{Trades: 6, WinRate: 0.5, ConsecutiveLosses: 2}, want: 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PerformanceFactor(tt.stats), 1e-12)
		})
	}
}

func TestStatsFromReturns(t *testing.T) {
	s := StatsFromReturns([]float64{0.1, -0.05, 0.02, -0.01, -0.03})
	assert.Equal(t, 5, s.Trades)
	assert.InDelta(t, 0.4, s.WinRate, 1e-12)
	assert.InDelta(t, 0.006, s.AvgReturn, 1e-12)
	assert.Equal(t, 2, s.ConsecutiveLosses)

	assert.Equal(t, domain.PerformanceStats{}, StatsFromReturns(nil))
}

func TestComputeSnapshot(t *testing.T) {
	c := domain.CapitalSnapshot{Balance: 95000, PeakBalance: 100000, DailyStartBalance: 98000, OpenPositions: 2, OpenRisk: 4750}
	s := ComputeSnapshot(c, nil, 0.15)

	assert.InDelta(t, -3000, s.DailyPnL, 1e-9)
	assert.InDelta(t, -3000.0/98000, s.DailyPnLPercent, 1e-12)
	assert.InDelta(t, 0.05, s.CurrentDrawdown, 1e-12)
	assert.InDelta(t, 0.05, s.PortfolioHeat, 1e-12)
	assert.InDelta(t, 0.05/0.15, s.RiskUtilization, 1e-12)
	assert.InDelta(t, 76000, s.AvailableCapital, 1e-9)
	assert.Equal(t, 2, s.OpenPositions)
	assert.Equal(t, domain.SeverityCritical, s.RiskLevel)
	assert.Equal(t, domain.RegimeCalm, s.Regime)
	assert.Equal(t, 50.0, s.VolatilityPercentile)

	vol := &domain.VolatilityProfile{Percentile: 88, HasPercentile: true, Regime: domain.RegimeChoppy}
	s = ComputeSnapshot(c, vol, 0.15)
	assert.Equal(t, 88.0, s.VolatilityPercentile)
	assert.Equal(t, domain.RegimeChoppy, s.Regime)
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, domain.SeverityLow, RiskLevel(0, 0))
	assert.Equal(t, domain.SeverityMedium, RiskLevel(0.03, 0))
	assert.Equal(t, domain.SeverityHigh, RiskLevel(0, -0.02))
	assert.Equal(t, domain.SeverityCritical, RiskLevel(0.09, 0))
}

func TestCheckBreakers_DailyLimitUsesSmallerCap(t *testing.T) {
	l := Limits{MaxDailyLoss: 1000, MaxDrawdownPct: 0.1, PortfolioHeatLimit: 0.15, MaxOpenPositions: 5}
	snap := domain.RiskSnapshot{TotalCapital: 100000, DailyPnL: -1000}
	alerts := CheckBreakers(snap, l)
	if assert.Len(t, alerts, 1) {
		assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
		assert.InDelta(t, 0.01, alerts[0].Limit, 1e-12)
	}

	snap.DailyPnL = -700
	alerts = CheckBreakers(snap, l)
	if assert.Len(t, alerts, 1) {
		assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)
	}

	snap.DailyPnL = 500
	assert.Empty(t, CheckBreakers(snap, l))
}

func TestBreaker_HaltKeepsFirstReason(t *testing.T) {
	var b Breaker
	assert.True(t, b.Halt("first", time.Time{}))
	assert.False(t, b.Halt("second", time.Time{}))
	assert.Equal(t, "first", b.State().Reason)
	prev := b.Resume()
	assert.Equal(t, "first", prev.Reason)
	assert.False(t, b.Halted())
}
