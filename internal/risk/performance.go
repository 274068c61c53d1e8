package risk

import (
	"context"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// minTradesForAdjustment is the history needed before performance affects
// sizing.
const minTradesForAdjustment = 5

// PerformanceSource reports trailing trade statistics.
type PerformanceSource interface {
	Performance(ctx context.Context) (domain.PerformanceStats, error)
}

// PerformanceFactor maps trailing statistics to a size multiplier in
// [0.2, 1.5]. With fewer than five trades it is exactly 1.
func PerformanceFactor(s domain.PerformanceStats) float64 {
	if s.Trades < minTradesForAdjustment {
		return 1
	}
	f := 1.0
	switch {
	case s.WinRate > 0.7:
		f *= 1.2
	case s.WinRate < 0.3:
		f *= 0.7
	}
	switch {
	case s.AvgReturn > 0.05:
		f *= 1.1
	case s.AvgReturn < -0.03:
		f *= 0.8
	}
	switch {
	case s.ConsecutiveLosses >= 3:
		f *= 0.5
	case s.ConsecutiveLosses >= 2:
		f *= 0.8
	}
	return clamp(f, 0.2, 1.5)
}

// StatsFromReturns summarises fractional trade returns in chronological
// order. A return of zero counts as neither win nor loss.
func StatsFromReturns(rets []float64) domain.PerformanceStats {
	s := domain.PerformanceStats{Trades: len(rets)}
	if len(rets) == 0 {
		return s
	}
	var wins int
	var sum float64
	for _, r := range rets {
		if r > 0 {
			wins++
		}
		sum += r
	}
	s.WinRate = float64(wins) / float64(len(rets))
	s.AvgReturn = sum / float64(len(rets))
	for i := len(rets) - 1; i >= 0 && rets[i] < 0; i-- {
		s.ConsecutiveLosses++
	}
	return s
}
