package risk

import (
	"context"
	"math"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const (
	atrPeriod          = 14
	percentileLookback = 60 // trading-day lookback, fetched with a 30 day buffer
	percentileWindow   = 20
	percentileMinBars  = 30
	regimeWindowDays   = 30
	regimeMinBars      = 20
	tradingDaysPerYear = 252
)

// MarketData is the subset of the price oracle the analyzer needs.
type MarketData interface {
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetHistoricalBars(ctx context.Context, symbol string, from, to time.Time, interval domain.Interval) ([]domain.Bar, error)
}

// Analyzer derives a VolatilityProfile from daily bars. One bar fetch
// serves all three measures.
type Analyzer struct {
	data MarketData
	now  func() time.Time
}

// NewAnalyzer creates an Analyzer over data.
func NewAnalyzer(data MarketData) *Analyzer {
	return &Analyzer{data: data, now: time.Now}
}

// Profile implements VolatilitySource.
func (a *Analyzer) Profile(ctx context.Context, symbol string) (domain.VolatilityProfile, error) {
	end := a.now()
	start := end.AddDate(0, 0, -(percentileLookback + 30))
	bars, err := a.data.GetHistoricalBars(ctx, symbol, start, end, domain.IntervalDay)
	if err != nil {
		return domain.VolatilityProfile{}, err
	}

	var p domain.VolatilityProfile
	if atr, ok := ATR(barsSince(bars, end.AddDate(0, 0, -(atrPeriod+10))), atrPeriod); ok {
		// Without a live price the ATR input is skipped rather than guessed.
		if price, err := a.data.GetLastPrice(ctx, symbol); err == nil && price > 0 {
			p.ATRPercent = atr / price * 100
			p.HasATR = true
		}
	}
	if pct, ok := VolatilityPercentile(bars); ok {
		p.Percentile = pct
		p.HasPercentile = true
	}
	p.Regime = ClassifyRegime(barsSince(bars, end.AddDate(0, 0, -regimeWindowDays)))
	return p, nil
}

func barsSince(bars []domain.Bar, from time.Time) []domain.Bar {
	for i, b := range bars {
		if !b.Time.Before(from) {
			return bars[i:]
		}
	}
	return nil
}

// ATR is the average true range smoothed with an exponentially weighted mean
// of the given span (weights (1-a)^i, a = 2/(span+1), normalised). The first
// true range is high minus low. It needs at least period bars.
func ATR(bars []domain.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	alpha := 2.0 / float64(period+1)
	decay := 1 - alpha

	var num, den float64
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		num = num*decay + tr
		den = den*decay + 1
	}
	return num / den, true
}

// VolatilityPercentile ranks the latest 20-day annualised volatility against
// every earlier value in the series, as a percentage.
func VolatilityPercentile(bars []domain.Bar) (float64, bool) {
	if len(bars) < percentileMinBars {
		return 0, false
	}
	rets := returns(bars)
	var vols []float64
	for end := percentileWindow; end <= len(rets); end++ {
		vols = append(vols, stddev(rets[end-percentileWindow:end])*math.Sqrt(tradingDaysPerYear))
	}
	if len(vols) == 0 {
		return 0, false
	}
	current := vols[len(vols)-1]
	var below int
	for _, v := range vols {
		if v <= current {
			below++
		}
	}
	return float64(below) / float64(len(vols)) * 100, true
}

// ClassifyRegime labels the window. First match wins: VOLATILE when
// annualised volatility exceeds 0.30, TRENDING when the regression slope is
// more than 2% of the mean price, CHOPPY when the mean range exceeds 3% of
// the mean close, otherwise CALM. Short windows are CALM.
func ClassifyRegime(bars []domain.Bar) domain.MarketRegime {
	if len(bars) < regimeMinBars {
		return domain.RegimeCalm
	}
	if stddev(returns(bars))*math.Sqrt(tradingDaysPerYear) > 0.3 {
		return domain.RegimeVolatile
	}

	closes := make([]float64, len(bars))
	var sumClose, sumRange float64
	for i, b := range bars {
		closes[i] = b.Close
		sumClose += b.Close
		sumRange += b.High - b.Low
	}
	meanClose := sumClose / float64(len(bars))
	if math.Abs(slope(closes)/meanClose) > 0.02 {
		return domain.RegimeTrending
	}
	if (sumRange/float64(len(bars)))/meanClose > 0.03 {
		return domain.RegimeChoppy
	}
	return domain.RegimeCalm
}

// VolatilityFactor combines the profile into one size multiplier in
// [0.3, 2.0]. Missing inputs contribute 1.
func VolatilityFactor(p domain.VolatilityProfile) float64 {
	f := 1.0
	if p.HasATR {
		switch {
		case p.ATRPercent > 5:
			f *= 0.7
		case p.ATRPercent < 2:
			f *= 1.2
		}
	}
	if p.HasPercentile {
		switch {
		case p.Percentile > 80:
			f *= 0.6
		case p.Percentile < 20:
			f *= 1.3
		}
	}
	switch p.Regime {
	case domain.RegimeVolatile:
		f *= 0.5
	case domain.RegimeChoppy:
		f *= 0.7
	case domain.RegimeTrending:
		f *= 1.2
	case domain.RegimeCalm:
		f *= 1.1
	}
	return clamp(f, 0.3, 2.0)
}

// returns are close-to-close fractional changes; len(bars)-1 values.
func returns(bars []domain.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, bars[i].Close/bars[i-1].Close-1)
	}
	return out
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// slope is the least-squares slope of ys against 0..n-1.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	xMean := (n - 1) / 2
	var yMean float64
	for _, y := range ys {
		yMean += y
	}
	yMean /= n
	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	return num / den
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
