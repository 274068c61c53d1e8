package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Limits are the circuit breaker thresholds.
type Limits struct {
	// MaxDailyLoss is an absolute currency cap. The effective daily limit is
	// the smaller of it and 3% of capital.
	MaxDailyLoss       float64
	MaxDrawdownPct     float64
	PortfolioHeatLimit float64
	MaxOpenPositions   int
}

const (
	dailyLossFraction = 0.03
	dailyWarnFraction = 2.0 / 3.0
	drawdownWarnFrac  = 0.8
)

// DailyLossLimit returns the canonical daily loss limit as a fraction of
// capital.
func (l Limits) DailyLossLimit(capital float64) float64 {
	limit := dailyLossFraction
	if l.MaxDailyLoss > 0 && capital > 0 {
		limit = math.Min(limit, l.MaxDailyLoss/capital)
	}
	return limit
}

// CheckBreakers runs the four independent breaker checks against snap.
func CheckBreakers(snap domain.RiskSnapshot, l Limits) []domain.RiskAlert {
	var alerts []domain.RiskAlert
	for _, a := range []*domain.RiskAlert{
		checkDailyLoss(snap, l),
		checkDrawdown(snap, l),
		checkHeat(snap, l),
		checkPositions(snap, l),
	} {
		if a != nil {
			a.Timestamp = snap.Timestamp
			alerts = append(alerts, *a)
		}
	}
	return alerts
}

func checkDailyLoss(snap domain.RiskSnapshot, l Limits) *domain.RiskAlert {
	if snap.DailyPnL >= 0 || snap.TotalCapital <= 0 {
		return nil
	}
	loss := -snap.DailyPnL / snap.TotalCapital
	limit := l.DailyLossLimit(snap.TotalCapital)
	switch {
	case loss >= limit:
		return &domain.RiskAlert{
			Type:            domain.AlertDailyLoss,
			Severity:        domain.SeverityCritical,
			Message:         fmt.Sprintf("Daily loss limit breached: %.1f%%", loss*100),
			Current:         loss,
			Limit:           limit,
			RequiresAction:  true,
			SuggestedAction: "Halt trading for the day",
		}
	case loss >= limit*dailyWarnFraction:
		return &domain.RiskAlert{
			Type:            domain.AlertDailyLoss,
			Severity:        domain.SeverityHigh,
			Message:         fmt.Sprintf("Approaching daily loss limit: %.1f%%", loss*100),
			Current:         loss,
			Limit:           limit,
			SuggestedAction: "Consider reducing position sizes",
		}
	}
	return nil
}

func checkDrawdown(snap domain.RiskSnapshot, l Limits) *domain.RiskAlert {
	dd := snap.CurrentDrawdown
	switch {
	case dd >= l.MaxDrawdownPct:
		return &domain.RiskAlert{
			Type:            domain.AlertDrawdown,
			Severity:        domain.SeverityCritical,
			Message:         fmt.Sprintf("Maximum drawdown breached: %.1f%%", dd*100),
			Current:         dd,
			Limit:           l.MaxDrawdownPct,
			RequiresAction:  true,
			SuggestedAction: "Emergency stop - review strategy",
		}
	case dd >= l.MaxDrawdownPct*drawdownWarnFrac:
		return &domain.RiskAlert{
			Type:            domain.AlertDrawdown,
			Severity:        domain.SeverityHigh,
			Message:         fmt.Sprintf("Approaching drawdown limit: %.1f%%", dd*100),
			Current:         dd,
			Limit:           l.MaxDrawdownPct,
			SuggestedAction: "Reduce risk and monitor closely",
		}
	}
	return nil
}

func checkHeat(snap domain.RiskSnapshot, l Limits) *domain.RiskAlert {
	if snap.PortfolioHeat < l.PortfolioHeatLimit {
		return nil
	}
	return &domain.RiskAlert{
		Type:            domain.AlertPortfolioHeat,
		Severity:        domain.SeverityCritical,
		Message:         fmt.Sprintf("Portfolio heat too high: %.1f%%", snap.PortfolioHeat*100),
		Current:         snap.PortfolioHeat,
		Limit:           l.PortfolioHeatLimit,
		RequiresAction:  true,
		SuggestedAction: "Reduce position sizes or close positions",
	}
}

func checkPositions(snap domain.RiskSnapshot, l Limits) *domain.RiskAlert {
	if snap.OpenPositions < l.MaxOpenPositions {
		return nil
	}
	return &domain.RiskAlert{
		Type:            domain.AlertPositionCount,
		Severity:        domain.SeverityCritical,
		Message:         fmt.Sprintf("Maximum positions reached: %d", snap.OpenPositions),
		Current:         float64(snap.OpenPositions),
		Limit:           float64(l.MaxOpenPositions),
		RequiresAction:  true,
		SuggestedAction: "Cannot open new positions",
	}
}

// Breaker holds the process-wide halt flag. All access is serialised.
type Breaker struct {
	mu    sync.Mutex
	state domain.CircuitBreakerState
}

// Halt stops trading. It returns false when the breaker was already halted,
// in which case the original reason is kept.
func (b *Breaker) Halt(reason string, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Halted {
		return false
	}
	b.state = domain.CircuitBreakerState{Halted: true, Reason: reason, HaltedAt: at}
	return true
}

// Resume clears the halt and returns the state it replaced.
func (b *Breaker) Resume() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	b.state = domain.CircuitBreakerState{}
	return prev
}

// State returns a copy of the current state.
func (b *Breaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Halted reports whether trading is halted.
func (b *Breaker) Halted() bool {
	return b.State().Halted
}
