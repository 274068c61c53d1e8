// Package risk sizes candidate trades and guards the account with circuit
// breakers and an emergency stop.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const (
	lowConfidence       = 70
	lowConfidenceSizePc = 5
	lowConfidenceCut    = 0.7
	maxBalanceFraction  = 0.5
	alertRetention      = time.Hour
	adverseMoveLimit    = -0.10
	volatilitySpikePct  = 95
)

// VolatilitySource supplies the volatility inputs for one symbol.
type VolatilitySource interface {
	Profile(ctx context.Context, symbol string) (domain.VolatilityProfile, error)
}

// CapitalSource builds the current capital snapshot. The execution
// coordinator implements it.
type CapitalSource interface {
	CapitalSnapshot(ctx context.Context) (domain.CapitalSnapshot, error)
}

// Config holds the gate's tunables.
type Config struct {
	RiskPerTrade       float64
	MaxPositionSize    float64
	MinPositionSize    float64
	MaxDailyLoss       float64
	MaxOpenPositions   int
	MaxDrawdownPct     float64
	PortfolioHeatLimit float64
	ReevaluateInterval time.Duration
}

func (c Config) limits() Limits {
	return Limits{
		MaxDailyLoss:       c.MaxDailyLoss,
		MaxDrawdownPct:     c.MaxDrawdownPct,
		PortfolioHeatLimit: c.PortfolioHeatLimit,
		MaxOpenPositions:   c.MaxOpenPositions,
	}
}

// Gate is the pre-trade risk check. The breaker and emergency state it owns
// are process-wide.
type Gate struct {
	cfg       Config
	vol       VolatilitySource
	perf      PerformanceSource
	notifier  domain.Notifier
	breaker   *Breaker
	emergency *Emergency
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	snapshot domain.RiskSnapshot
	alerts   []domain.RiskAlert
}

// New creates a Gate. perf and notifier may be nil.
func New(cfg Config, vol VolatilitySource, perf PerformanceSource, notifier domain.Notifier, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		vol:       vol,
		perf:      perf,
		notifier:  notifier,
		breaker:   &Breaker{},
		emergency: &Emergency{},
		logger:    logger.With(slog.String("component", "risk")),
		now:       time.Now,
	}
}

// SetEmergencyHandler installs the unwind callback fired by emergency
// conditions.
func (g *Gate) SetEmergencyHandler(h EmergencyHandler) {
	g.emergency.SetHandler(h)
}

// Validate decides whether sig may be traded against the given capital. A
// rejection is a normal outcome, not an error. When trading is halted the
// decision is nil.
func (g *Gate) Validate(ctx context.Context, sig domain.Signal, capital domain.CapitalSnapshot) (bool, *domain.PositionSizeDecision, []domain.RiskAlert) {
	if st := g.breaker.State(); st.Halted {
		return false, nil, []domain.RiskAlert{{
			Type:            domain.AlertEmergencyStop,
			Severity:        domain.SeverityCritical,
			Symbol:          sig.Symbol,
			Message:         "Trading halted: " + st.Reason,
			Current:         1,
			Limit:           0,
			RequiresAction:  true,
			SuggestedAction: "Cannot execute trades while halted",
			Timestamp:       g.now(),
		}}
	}

	var profile *domain.VolatilityProfile
	if g.vol != nil {
		p, err := g.vol.Profile(ctx, sig.Symbol)
		if err != nil {
			g.logger.WarnContext(ctx, "risk: volatility profile unavailable, using neutral factor",
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			profile = &p
		}
	}

	snap := g.refresh(capital, profile)
	alerts, critical := g.evaluate(ctx, snap)
	for i := range alerts {
		alerts[i].Symbol = sig.Symbol
	}
	if critical {
		return false, nil, alerts
	}

	volFactor := 1.0
	if profile != nil {
		volFactor = VolatilityFactor(*profile)
	}
	perfFactor := 1.0
	if g.perf != nil {
		stats, err := g.perf.Performance(ctx)
		if err != nil {
			g.logger.WarnContext(ctx, "risk: performance history unavailable", slog.String("error", err.Error()))
		} else {
			perfFactor = PerformanceFactor(stats)
		}
	}

	balance := capital.Balance
	decision := Size(SizeInput{
		Symbol:            sig.Symbol,
		Entry:             sig.EntryPrice,
		Stop:              sig.StopLoss,
		Balance:           balance,
		RiskPerTrade:      g.cfg.RiskPerTrade,
		MaxPositionSize:   g.cfg.MaxPositionSize,
		VolatilityFactor:  volFactor,
		PerformanceFactor: perfFactor,
	})

	if decision.FinalSize < g.cfg.MinPositionSize {
		alerts = append(alerts, g.sizeAlert(sig.Symbol, domain.SeverityHigh,
			"Position size too small to be viable", decision.FinalSize, g.cfg.MinPositionSize,
			"Increase account balance or adjust risk parameters"))
		g.record(alerts[len(alerts)-1:])
		return false, &decision, alerts
	}
	if decision.FinalSize > balance*maxBalanceFraction {
		alerts = append(alerts, g.sizeAlert(sig.Symbol, domain.SeverityHigh,
			"Position size exceeds safe allocation", decision.SizePercent, maxBalanceFraction*100,
			"Reduce position size"))
		g.record(alerts[len(alerts)-1:])
		return false, &decision, alerts
	}

	if sig.Confidence < lowConfidence && decision.SizePercent > lowConfidenceSizePc {
		decision.FinalSize *= lowConfidenceCut
		decision.SizePercent = decision.FinalSize / balance * 100
		decision.RiskAmount *= lowConfidenceCut
		decision.Rationale += " (reduced for low confidence)"
		a := g.sizeAlert(sig.Symbol, domain.SeverityMedium,
			"Position size reduced due to low signal confidence", sig.Confidence, lowConfidence,
			"Consider waiting for higher confidence signals")
		a.RequiresAction = false
		alerts = append(alerts, a)
		g.record(alerts[len(alerts)-1:])
	}
	return true, &decision, alerts
}

func (g *Gate) sizeAlert(symbol string, sev domain.Severity, msg string, current, limit float64, action string) domain.RiskAlert {
	return domain.RiskAlert{
		Type:            domain.AlertPositionSize,
		Severity:        sev,
		Symbol:          symbol,
		Message:         msg,
		Current:         current,
		Limit:           limit,
		RequiresAction:  true,
		SuggestedAction: action,
		Timestamp:       g.now(),
	}
}

// refresh recomputes and stores the snapshot.
func (g *Gate) refresh(capital domain.CapitalSnapshot, profile *domain.VolatilityProfile) domain.RiskSnapshot {
	if capital.Timestamp.IsZero() {
		capital.Timestamp = g.now()
	}
	snap := ComputeSnapshot(capital, profile, g.cfg.PortfolioHeatLimit)
	g.mu.Lock()
	g.snapshot = snap
	g.mu.Unlock()
	return snap
}

// evaluate runs the breakers and the emergency check against snap. The
// first CRITICAL alert halts trading.
func (g *Gate) evaluate(ctx context.Context, snap domain.RiskSnapshot) ([]domain.RiskAlert, bool) {
	alerts := CheckBreakers(snap, g.cfg.limits())
	g.record(alerts)

	critical := false
	for _, a := range alerts {
		if a.Severity != domain.SeverityCritical {
			continue
		}
		critical = true
		g.halt(ctx, a.Message, &a)
		break
	}

	if hits := EmergencyConditions(snap); len(hits) > 0 {
		reason := joinReasons(hits)
		if g.emergency.Trigger(reason, g.now()) {
			g.logger.ErrorContext(ctx, "risk: emergency stop triggered",
				slog.String("severity", string(domain.SeverityCritical)),
				slog.String("reason", reason),
			)
			g.notify(ctx, domain.Event{
				Kind:     domain.EventEmergencyStop,
				Severity: domain.SeverityCritical,
				Title:    "Emergency stop triggered",
				Message:  reason,
			})
		}
	}
	return alerts, critical
}

func (g *Gate) halt(ctx context.Context, reason string, alert *domain.RiskAlert) {
	if !g.breaker.Halt(reason, g.now()) {
		return
	}
	g.logger.ErrorContext(ctx, "risk: trading halted",
		slog.String("severity", string(domain.SeverityCritical)),
		slog.String("reason", reason),
	)
	g.notify(ctx, domain.Event{
		Kind:     domain.EventCircuitBreaker,
		Severity: domain.SeverityCritical,
		Title:    "Trading halted",
		Message:  reason,
		Alert:    alert,
	})
}

// Halt stops trading manually.
func (g *Gate) Halt(ctx context.Context, reason string) {
	g.halt(ctx, reason, nil)
}

// Resume lifts a halt. The override reason is logged with the reason the
// breaker tripped for.
func (g *Gate) Resume(ctx context.Context, overrideReason string) {
	prev := g.breaker.Resume()
	if !prev.Halted {
		return
	}
	g.logger.WarnContext(ctx, "risk: trading resumed",
		slog.String("override_reason", overrideReason),
		slog.String("halt_reason", prev.Reason),
		slog.Duration("halted_for", g.now().Sub(prev.HaltedAt)),
	)
	g.notify(ctx, domain.Event{
		Kind:     domain.EventCircuitBreaker,
		Severity: domain.SeverityMedium,
		Title:    "Trading resumed",
		Message:  fmt.Sprintf("%s (was halted for: %s)", overrideReason, prev.Reason),
	})
}

// BreakerState returns the circuit breaker state.
func (g *Gate) BreakerState() domain.CircuitBreakerState {
	return g.breaker.State()
}

// Halted reports whether trading is halted.
func (g *Gate) Halted() bool {
	return g.breaker.Halted()
}

// EmergencyStatus reports the emergency stop state.
func (g *Gate) EmergencyStatus() EmergencyStatus {
	return g.emergency.Status()
}

// TriggerEmergency fires the emergency stop manually. It returns false if
// it had already fired.
func (g *Gate) TriggerEmergency(ctx context.Context, reason string) bool {
	if !g.emergency.Trigger(reason, g.now()) {
		return false
	}
	g.logger.ErrorContext(ctx, "risk: emergency stop triggered",
		slog.String("severity", string(domain.SeverityCritical)),
		slog.String("reason", reason),
	)
	return true
}

// WaitEmergency blocks until a running emergency handler returns.
func (g *Gate) WaitEmergency() {
	g.emergency.Wait()
}

// Snapshot returns the most recently computed RiskSnapshot.
func (g *Gate) Snapshot() domain.RiskSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

// Dashboard is a point-in-time risk summary.
type Dashboard struct {
	Snapshot     domain.RiskSnapshot        `json:"risk_metrics"`
	RecentAlerts []domain.RiskAlert         `json:"recent_alerts"`
	Breaker      domain.CircuitBreakerState `json:"circuit_breaker"`
	Emergency    EmergencyStatus            `json:"emergency"`
}

// Dashboard returns the current snapshot with alerts raised in the last
// hour.
func (g *Gate) Dashboard() Dashboard {
	cutoff := g.now().Add(-alertRetention)
	g.mu.Lock()
	recent := make([]domain.RiskAlert, 0, len(g.alerts))
	for _, a := range g.alerts {
		if a.Timestamp.After(cutoff) {
			recent = append(recent, a)
		}
	}
	snap := g.snapshot
	g.mu.Unlock()
	return Dashboard{
		Snapshot:     snap,
		RecentAlerts: recent,
		Breaker:      g.breaker.State(),
		Emergency:    g.emergency.Status(),
	}
}

func (g *Gate) record(alerts []domain.RiskAlert) {
	if len(alerts) == 0 {
		return
	}
	cutoff := g.now().Add(-alertRetention)
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.alerts[:0]
	for _, a := range g.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	g.alerts = append(kept, alerts...)
}

// MonitorPosition checks an open trade at the current price: a HIGH alert
// when the move against the position exceeds 10%, MEDIUM when the symbol's
// volatility percentile is above 95.
func (g *Gate) MonitorPosition(ctx context.Context, t domain.Trade, current float64) []domain.RiskAlert {
	if t.FillPrice <= 0 || current <= 0 {
		return nil
	}
	var alerts []domain.RiskAlert
	move := (current - t.FillPrice) / t.FillPrice
	if t.Signal.Direction == domain.GapDown {
		move = -move
	}
	if move < adverseMoveLimit {
		alerts = append(alerts, domain.RiskAlert{
			Type:            domain.AlertAdverseMove,
			Severity:        domain.SeverityHigh,
			Symbol:          t.Signal.Symbol,
			Message:         fmt.Sprintf("%s: Large adverse move %.1f%%", t.Signal.Symbol, move*100),
			Current:         -move,
			Limit:           -adverseMoveLimit,
			RequiresAction:  true,
			SuggestedAction: "Consider closing position or tightening stop",
			Timestamp:       g.now(),
		})
	}
	if g.vol != nil {
		if p, err := g.vol.Profile(ctx, t.Signal.Symbol); err == nil && p.HasPercentile && p.Percentile > volatilitySpikePct {
			alerts = append(alerts, domain.RiskAlert{
				Type:            domain.AlertVolatilitySpike,
				Severity:        domain.SeverityMedium,
				Symbol:          t.Signal.Symbol,
				Message:         t.Signal.Symbol + ": Extreme volatility detected",
				Current:         p.Percentile,
				Limit:           volatilitySpikePct,
				SuggestedAction: "Monitor position closely",
				Timestamp:       g.now(),
			})
		}
	}
	g.record(alerts)
	return alerts
}

// Run re-evaluates the breakers and emergency conditions from src on every
// tick until ctx is done.
func (g *Gate) Run(ctx context.Context, src CapitalSource) error {
	interval := g.cfg.ReevaluateInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	g.logger.Info("risk: re-evaluation loop started", slog.Duration("interval", interval))
	defer g.logger.Info("risk: re-evaluation loop stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Reevaluate(ctx, src)
		}
	}
}

// Reevaluate performs one re-evaluation pass. Failures to read capital are
// logged and retried on the next tick.
func (g *Gate) Reevaluate(ctx context.Context, src CapitalSource) {
	capital, err := src.CapitalSnapshot(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "risk: capital snapshot failed", slog.String("error", err.Error()))
		return
	}
	snap := g.refresh(capital, nil)
	alerts, _ := g.evaluate(ctx, snap)
	for _, a := range alerts {
		if a.Severity == domain.SeverityHigh {
			g.notify(ctx, domain.Event{
				Kind:     domain.EventRiskAlert,
				Severity: a.Severity,
				Title:    string(a.Type),
				Message:  a.Message,
				Alert:    &a,
			})
		}
	}
}

func (g *Gate) notify(ctx context.Context, ev domain.Event) {
	if g.notifier == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = g.now()
	}
	if err := g.notifier.Notify(ctx, ev); err != nil {
		g.logger.WarnContext(ctx, "risk: notify failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
