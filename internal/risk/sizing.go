package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const (
	defaultStopFraction  = 0.02
	maxCapitalFraction   = 0.10
	availableCapitalFrac = 0.80
)

// SizeInput holds everything the sizing computation depends on. Equal
// inputs always produce equal decisions.
type SizeInput struct {
	Symbol            string
	Entry             float64
	Stop              float64
	Balance           float64
	RiskPerTrade      float64
	MaxPositionSize   float64
	VolatilityFactor  float64
	PerformanceFactor float64
}

// Size computes a PositionSizeDecision.
//
//	riskPerShare = |entry - stop|, or entry*0.02 when zero
//	base         = balance*riskPerTrade / riskPerShare * entry
//	adjusted     = base * volatility * performance
//	final        = min(adjusted, balance*0.10, maxPositionSize, balance*0.80)
func Size(in SizeInput) domain.PositionSizeDecision {
	riskPerShare := math.Abs(in.Entry - in.Stop)
	if riskPerShare == 0 {
		riskPerShare = in.Entry * defaultStopFraction
	}

	base := in.Balance * in.RiskPerTrade / riskPerShare * in.Entry
	volAdjusted := base * in.VolatilityFactor
	perfAdjusted := volAdjusted * in.PerformanceFactor

	maxAllowed := math.Min(in.Balance*maxCapitalFraction, in.MaxPositionSize)
	maxAllowed = math.Min(maxAllowed, in.Balance*availableCapitalFrac)
	final := math.Min(perfAdjusted, maxAllowed)

	d := domain.PositionSizeDecision{
		Symbol:              in.Symbol,
		BaseSize:            base,
		VolatilityAdjusted:  volAdjusted,
		PerformanceAdjusted: perfAdjusted,
		MaxAllowed:          maxAllowed,
		FinalSize:           final,
		Rationale:           rationale(base, volAdjusted, perfAdjusted, final),
	}
	if in.Balance > 0 {
		d.SizePercent = final / in.Balance * 100
	}
	if in.Entry > 0 {
		d.RiskAmount = final / in.Entry * riskPerShare
	}
	return d
}

func rationale(base, vol, perf, final float64) string {
	parts := []string{fmt.Sprintf("Base: %.0f", base)}
	if base > 0 {
		if change := (vol/base - 1) * 100; math.Abs(change) > 5 {
			parts = append(parts, fmt.Sprintf("Volatility %s by %.0f%%", direction(change), math.Abs(change)))
		}
	}
	if vol > 0 {
		if change := (perf/vol - 1) * 100; math.Abs(change) > 5 {
			parts = append(parts, fmt.Sprintf("Performance %s by %.0f%%", direction(change), math.Abs(change)))
		}
	}
	if final < perf && perf > 0 {
		parts = append(parts, fmt.Sprintf("Limited by max size (-%.0f%%)", (1-final/perf)*100))
	}
	return strings.Join(parts, ", ")
}

func direction(change float64) string {
	if change < 0 {
		return "reduced"
	}
	return "increased"
}
