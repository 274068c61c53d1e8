package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func closeBars(closes []float64, spread float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Time:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c + spread,
			Low:   c - spread,
			Close: c,
		}
	}
	return out
}

func TestATR(t *testing.T) {
	bars := []domain.Bar{
		{High: 11, Low: 10, Close: 10.5},
		{High: 13.5, Low: 10.5, Close: 12},
	}
	atr, ok := ATR(bars, 2)
	require.True(t, ok)
	// TR = [1, 3], alpha = 2/3: (1/3*1 + 3) / (1/3 + 1)
	assert.InDelta(t, 2.5, atr, 1e-12)

	_, ok = ATR(bars, 14)
	assert.False(t, ok)

	flat := closeBars(make20(100), 0.5)
	atr, ok = ATR(flat, 14)
	require.True(t, ok)
	assert.InDelta(t, 1.0, atr, 1e-12)
}

func make20(v float64) []float64 {
	out := make([]float64, 20)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClassifyRegime(t *testing.T) {
	var trending, volatile []float64
	for i := 0; i < 25; i++ {
		trending = append(trending, 100+3*float64(i))
		if i%2 == 0 {
			volatile = append(volatile, 100)
		} else {
			volatile = append(volatile, 110)
		}
	}

	tests := []struct {
		name string
		bars []domain.Bar
		want domain.MarketRegime
	}{
		{name: "too short", bars: closeBars(volatile[:10], 0.1), want: domain.RegimeCalm},
		{name: "volatile", bars: closeBars(volatile, 0.1), want: domain.RegimeVolatile},
		{name: "trending", bars: closeBars(trending, 0.1), want: domain.RegimeTrending},
		{name: "choppy", bars: closeBars(make20(100), 2), want: domain.RegimeChoppy},
		{name: "calm", bars: closeBars(make20(100), 0.5), want: domain.RegimeCalm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRegime(tt.bars))
		})
	}
}

func TestVolatilityPercentile(t *testing.T) {
	var closes []float64
	price := 100.0
	for i := 0; i < 40; i++ {
		step := 0.001
		if i >= 30 {
			step = 0.05
		}
		if i%2 == 0 {
			price *= 1 + step
		} else {
			price *= 1 - step
		}
		closes = append(closes, price)
	}

	pct, ok := VolatilityPercentile(closeBars(closes, 0.1))
	require.True(t, ok)
	assert.InDelta(t, 100, pct, 1e-9)

	_, ok = VolatilityPercentile(closeBars(closes[:29], 0.1))
	assert.False(t, ok)
}

func TestVolatilityFactor(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.VolatilityProfile
		want    float64
	}{
		{name: "no inputs", want: 1},
		{name: "calm only", profile: domain.VolatilityProfile{Regime: domain.RegimeCalm}, want: 1.1},
		{
			name:    "everything hot clamps low",
			profile: domain.VolatilityProfile{ATRPercent: 7, HasATR: true, Percentile: 90, HasPercentile: true, Regime: domain.RegimeVolatile},
			want:    0.3,
		},
		{
			name:    "quiet trend",
			profile: domain.VolatilityProfile{ATRPercent: 1, HasATR: true, Percentile: 10, HasPercentile: true, Regime: domain.RegimeTrending},
			want:    1.2 * 1.3 * 1.2,
		},
		{
			name:    "mid-range inputs",
			profile: domain.VolatilityProfile{ATRPercent: 3, HasATR: true, Percentile: 50, HasPercentile: true, Regime: domain.RegimeChoppy},
			want:    0.7,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VolatilityFactor(tt.profile), 1e-12)
		})
	}
}

type fakeMarketData struct {
	bars  []domain.Bar
	price float64
	from  time.Time
}

func (f *fakeMarketData) GetLastPrice(context.Context, string) (float64, error) {
	return f.price, nil
}

func (f *fakeMarketData) GetHistoricalBars(_ context.Context, _ string, from, _ time.Time, _ domain.Interval) ([]domain.Bar, error) {
	f.from = from
	return f.bars, nil
}

func TestAnalyzerProfile(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := 60; i > 0; i-- {
		bars = append(bars, domain.Bar{Time: now.AddDate(0, 0, -i), Open: 100, High: 100.5, Low: 99.5, Close: 100})
	}
	md := &fakeMarketData{bars: bars, price: 100}
	a := NewAnalyzer(md)
	a.now = func() time.Time { return now }

	p, err := a.Profile(context.Background(), "HDFC")
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -90), md.from)
	assert.True(t, p.HasATR)
	assert.InDelta(t, 1.0, p.ATRPercent, 1e-9)
	assert.True(t, p.HasPercentile)
	assert.InDelta(t, 100, p.Percentile, 1e-9)
	assert.Equal(t, domain.RegimeCalm, p.Regime)
}
