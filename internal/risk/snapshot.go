package risk

import (
	"math"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// defaultPercentile is reported when no volatility history is available.
const defaultPercentile = 50

// ComputeSnapshot derives a RiskSnapshot entirely from the capital snapshot
// and, when given, the volatility profile of the symbol under evaluation.
func ComputeSnapshot(c domain.CapitalSnapshot, vol *domain.VolatilityProfile, heatLimit float64) domain.RiskSnapshot {
	peak := math.Max(c.PeakBalance, c.Balance)
	dailyStart := c.DailyStartBalance
	if dailyStart <= 0 {
		dailyStart = c.Balance
	}
	portfolio := c.PortfolioValue
	if portfolio <= 0 {
		portfolio = c.Balance
	}

	s := domain.RiskSnapshot{
		Timestamp:            c.Timestamp,
		TotalCapital:         c.Balance,
		AvailableCapital:     c.Balance * availableCapitalFrac,
		PortfolioValue:       portfolio,
		DailyPnL:             c.Balance - dailyStart,
		OpenPositions:        c.OpenPositions,
		VolatilityPercentile: defaultPercentile,
		Regime:               domain.RegimeCalm,
	}
	if dailyStart > 0 {
		s.DailyPnLPercent = s.DailyPnL / dailyStart
	}
	if peak > 0 {
		s.CurrentDrawdown = (peak - c.Balance) / peak
	}
	if c.Balance > 0 {
		s.PortfolioHeat = c.OpenRisk / c.Balance
	}
	if heatLimit > 0 {
		s.RiskUtilization = s.PortfolioHeat / heatLimit
	}
	if vol != nil {
		if vol.HasPercentile {
			s.VolatilityPercentile = vol.Percentile
		}
		if vol.Regime != domain.RegimeUnknown {
			s.Regime = vol.Regime
		}
	}
	s.RiskLevel = RiskLevel(s.CurrentDrawdown, s.DailyPnLPercent)
	return s
}

// RiskLevel grades overall account stress from drawdown and daily P&L.
func RiskLevel(drawdown, dailyPct float64) domain.Severity {
	switch {
	case drawdown > 0.08 || dailyPct < -0.025:
		return domain.SeverityCritical
	case drawdown > 0.05 || dailyPct < -0.015:
		return domain.SeverityHigh
	case drawdown > 0.02 || dailyPct < -0.005:
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}
