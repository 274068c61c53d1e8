// Package executor turns approved signals into protected positions and
// supervises them until they close.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/risk"
)

const (
	defaultFillTimeout      = 30 * time.Second
	defaultFillPollInterval = time.Second
	defaultMonitorInterval  = 10 * time.Second
	defaultMaxHolding       = 2 * time.Hour
	defaultExitTimeout      = 30 * time.Second
	maxFillBackoffFactor    = 4
	defaultStopFraction     = 0.02
	defaultRewardRatio      = 2.0
)

// Broker is the order boundary the coordinator drives.
type Broker interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	GetOrderStatus(ctx context.Context, id string) (domain.Order, error)
	CancelOrder(ctx context.Context, id string) error
	PlaceBracketExit(ctx context.Context, symbol string, qty int64, target, stop, current float64) (domain.BracketExit, error)
	CancelBracketExit(ctx context.Context, id string) error
	GetAccount(ctx context.Context) (domain.Account, error)
}

// RiskGate approves and sizes signals.
type RiskGate interface {
	Validate(ctx context.Context, sig domain.Signal, capital domain.CapitalSnapshot) (bool, *domain.PositionSizeDecision, []domain.RiskAlert)
	Halted() bool
	Halt(ctx context.Context, reason string)
	Resume(ctx context.Context, overrideReason string)
	MonitorPosition(ctx context.Context, t domain.Trade, current float64) []domain.RiskAlert
}

// Positions is the tracked broker position view.
type Positions interface {
	GetPosition(symbol string) (domain.PositionStatus, bool)
	GetAllPositions() map[string]domain.PositionStatus
	UpdatedAt() time.Time
}

// Config tunes execution timing.
type Config struct {
	FillTimeout      time.Duration
	FillPollInterval time.Duration
	MonitorInterval  time.Duration
	MaxHolding       time.Duration
	DedupWindow      time.Duration
	// ExitTimeout bounds protective and exit broker calls, which run
	// detached from the caller's context.
	ExitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FillTimeout <= 0 {
		c.FillTimeout = defaultFillTimeout
	}
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = defaultFillPollInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.MaxHolding <= 0 {
		c.MaxHolding = defaultMaxHolding
	}
	if c.ExitTimeout <= 0 {
		c.ExitTimeout = defaultExitTimeout
	}
	return c
}

// Deps are the collaborators of a Coordinator. Sink, Notifier and Ledger
// are optional.
type Deps struct {
	Broker    Broker
	Gate      RiskGate
	Positions Positions
	Sink      domain.TradeSink
	Notifier  domain.Notifier
	Ledger    *Ledger
}

// RejectionError is returned when a signal is turned away before any order
// is sent. It matches domain.ErrSignalRejected.
type RejectionError struct {
	Reason   string
	Alerts   []domain.RiskAlert
	Decision *domain.PositionSizeDecision
}

func (e *RejectionError) Error() string { return "signal rejected: " + e.Reason }

func (e *RejectionError) Unwrap() error { return domain.ErrSignalRejected }

// Coordinator runs the trade state machine. It is the single owner of the
// active trade registry and of every lifecycle monitor.
type Coordinator struct {
	cfg       Config
	broker    Broker
	gate      RiskGate
	positions Positions
	sink      domain.TradeSink
	notifier  domain.Notifier
	ledger    *Ledger
	analytics *Analytics
	dedup     *Dedup
	trades    *registry
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	emergency atomic.Bool
	emMu      sync.Mutex
	emReason  string
	emAt      time.Time

	peakMu sync.Mutex
	peak   float64

	monMu    sync.Mutex
	monitors map[string]*monitorHandle
	closing  bool
	inflight sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	ledger := deps.Ledger
	if ledger == nil {
		ledger = NewLedger(0)
	}
	return &Coordinator{
		cfg:       cfg,
		broker:    deps.Broker,
		gate:      deps.Gate,
		positions: deps.Positions,
		sink:      deps.Sink,
		notifier:  deps.Notifier,
		ledger:    ledger,
		analytics: NewAnalytics(),
		dedup:     NewDedup(cfg.DedupWindow),
		trades:    newRegistry(),
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
		sleep:     sleepCtx,
		monitors:  make(map[string]*monitorHandle),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// detached returns a context that survives cancellation of ctx, bounded by
// the exit timeout. Once an entry has reached the broker its protection
// must not be abandoned because a caller went away.
func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ExitTimeout)
}

// CapitalSnapshot builds the risk gate's view of the account: broker equity,
// the running peak, the tracked position count and the open stop risk of
// active trades.
func (c *Coordinator) CapitalSnapshot(ctx context.Context) (domain.CapitalSnapshot, error) {
	acct, err := c.broker.GetAccount(ctx)
	if err != nil {
		return domain.CapitalSnapshot{}, fmt.Errorf("executor: get account: %w", err)
	}
	dayStart := acct.LastEquity
	if dayStart <= 0 {
		dayStart = acct.Equity
	}

	c.peakMu.Lock()
	c.peak = max(c.peak, acct.Equity, dayStart)
	peak := c.peak
	c.peakMu.Unlock()

	snap := domain.CapitalSnapshot{
		Timestamp:         c.now(),
		Balance:           acct.Equity,
		PeakBalance:       peak,
		DailyStartBalance: dayStart,
		OpenRisk:          c.trades.openRisk(),
	}
	if c.positions != nil {
		all := c.positions.GetAllPositions()
		snap.OpenPositions = len(all)
		for _, p := range all {
			snap.PortfolioValue += p.Value
		}
	}
	return snap, nil
}

var _ risk.CapitalSource = (*Coordinator)(nil)

// ExecuteSignal validates sig, enters the position, protects it and starts
// its lifecycle monitor. A rejected signal returns a *RejectionError and no
// trade. A trade whose protection could not be placed is still returned,
// with an error matching domain.ErrProtectionFailure.
func (c *Coordinator) ExecuteSignal(ctx context.Context, sig domain.Signal) (domain.Trade, error) {
	if c.emergency.Load() {
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", sig.Symbol, domain.ErrEmergencyStop)
	}
	if err := sig.Validate(); err != nil {
		return domain.Trade{}, fmt.Errorf("executor: %w", err)
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = c.now()
	}
	log := c.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)

	if c.dedup.IsDuplicate(sig) {
		log.InfoContext(ctx, "executor: duplicate signal ignored")
		return domain.Trade{}, fmt.Errorf("executor: %s %s: %w", sig.Symbol, sig.Direction, domain.ErrDuplicateSignal)
	}
	if !c.trades.reserve(sig.Symbol) {
		c.dedup.Forget(sig)
		return domain.Trade{}, c.reject(ctx, log, sig, "open trade already exists for "+sig.Symbol, nil, nil)
	}
	defer c.trades.release(sig.Symbol)
	c.inflight.Add(1)
	defer c.inflight.Done()
	log.DebugContext(ctx, "executor: validating signal",
		slog.String("state", string(domain.TradePendingValidation)),
		slog.Float64("confidence", sig.Confidence),
	)

	capital, err := c.CapitalSnapshot(ctx)
	if err != nil {
		c.dedup.Forget(sig)
		return domain.Trade{}, err
	}
	approved, decision, alerts := c.gate.Validate(ctx, sig, capital)
	if !approved {
		c.dedup.Forget(sig)
		return domain.Trade{}, c.reject(ctx, log, sig, rejectionReason(alerts), alerts, decision)
	}

	qty := int64(math.Floor(decision.FinalSize / sig.EntryPrice))
	if qty <= 0 {
		c.dedup.Forget(sig)
		return domain.Trade{}, c.reject(ctx, log, sig, "quantity rounds to zero", alerts, decision)
	}

	// Final guard: a halt may have landed while we were validating.
	if c.emergency.Load() {
		c.dedup.Forget(sig)
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", sig.Symbol, domain.ErrEmergencyStop)
	}
	if c.gate.Halted() {
		c.dedup.Forget(sig)
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", sig.Symbol, domain.ErrTradingHalted)
	}

	entry, err := c.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     sig.EntrySide(),
		Quantity: qty,
		Kind:     domain.OrderKindMarket,
		Price:    sig.EntryPrice,
		Tag:      sig.ID + "-entry",
	})
	if err != nil {
		c.analytics.orderRejected()
		if errors.Is(err, domain.ErrDailyCapReached) || errors.Is(err, domain.ErrInvalidOrder) {
			c.dedup.Forget(sig)
		}
		log.WarnContext(ctx, "executor: entry order failed", slog.String("error", err.Error()))
		c.aborted(ctx, sig, "entry order failed: "+err.Error())
		return domain.Trade{}, fmt.Errorf("executor: entry %s: %w", sig.Symbol, err)
	}
	c.analytics.orderPlaced()
	log.InfoContext(ctx, "executor: entry submitted",
		slog.String("state", string(domain.TradeEntrySubmitted)),
		slog.String("order_id", entry.ID),
		slog.Int64("quantity", qty),
		slog.Float64("final_size", decision.FinalSize),
	)

	filled, err := c.waitForFill(ctx, entry)
	if err != nil {
		var ok bool
		filled, ok = c.abandonEntry(ctx, filled)
		if !ok {
			log.WarnContext(ctx, "executor: entry not filled, aborting",
				slog.String("order_id", entry.ID),
				slog.String("error", err.Error()),
			)
			c.aborted(ctx, sig, "entry not filled: "+err.Error())
			return domain.Trade{}, err
		}
		log.WarnContext(ctx, "executor: entry partially filled before abort",
			slog.String("order_id", entry.ID),
			slog.Int64("filled_qty", filled.FilledQty),
		)
	}
	c.analytics.orderFilled()

	fillQty := filled.FilledQty
	if fillQty <= 0 {
		fillQty = qty
	}
	fillPrice := filled.AveragePrice
	if fillPrice <= 0 {
		fillPrice = sig.EntryPrice
	}
	now := c.now()
	c.analytics.Record(Measure(sig, fillPrice, sig.CreatedAt, now))

	t := domain.Trade{
		ID:         uuid.NewString(),
		Signal:     sig,
		EntryOrder: filled,
		Sizing:     *decision,
		Quantity:   fillQty,
		FillPrice:  fillPrice,
		Status:     domain.TradeEntryFilled,
		EntryTime:  now,
	}
	log.InfoContext(ctx, "executor: entry filled",
		slog.String("trade_id", t.ID),
		slog.Float64("fill_price", fillPrice),
		slog.Int64("quantity", fillQty),
	)

	pctx, cancel := c.detached(ctx)
	perr := c.protect(pctx, log, &t)
	cancel()

	c.register(ctx, t)
	if perr != nil {
		return t, perr
	}
	return t, nil
}

func rejectionReason(alerts []domain.RiskAlert) string {
	for _, a := range alerts {
		if a.Severity.Rank() >= domain.SeverityHigh.Rank() {
			return a.Message
		}
	}
	return "risk gate rejected"
}

func (c *Coordinator) reject(ctx context.Context, log *slog.Logger, sig domain.Signal, reason string, alerts []domain.RiskAlert, decision *domain.PositionSizeDecision) error {
	log.InfoContext(ctx, "executor: signal rejected", slog.String("reason", reason))
	c.notify(ctx, domain.Event{
		Kind:     domain.EventSignalRejected,
		Severity: domain.SeverityLow,
		Symbol:   sig.Symbol,
		Title:    "Signal rejected",
		Message:  reason,
	})
	return &RejectionError{Reason: reason, Alerts: alerts, Decision: decision}
}

func (c *Coordinator) aborted(ctx context.Context, sig domain.Signal, msg string) {
	c.notify(ctx, domain.Event{
		Kind:     domain.EventExecutionAborted,
		Severity: domain.SeverityMedium,
		Symbol:   sig.Symbol,
		Title:    "Execution aborted",
		Message:  msg,
	})
}

// waitForFill polls the entry until it completes, dies or the fill timeout
// passes. Transient status errors back off; anything else aborts.
func (c *Coordinator) waitForFill(ctx context.Context, entry domain.Order) (domain.Order, error) {
	deadline := c.now().Add(c.cfg.FillTimeout)
	wait := c.cfg.FillPollInterval
	o := entry
	for {
		switch o.Status {
		case domain.OrderStatusComplete:
			return o, nil
		case domain.OrderStatusCancelled, domain.OrderStatusRejected:
			return o, fmt.Errorf("executor: entry %s %s: %w", o.ID, o.Status, domain.ErrBrokerRejected)
		}

		left := deadline.Sub(c.now())
		if left <= 0 {
			return o, fmt.Errorf("executor: entry %s after %s: %w", o.ID, c.cfg.FillTimeout, domain.ErrFillTimeout)
		}
		if err := c.sleep(ctx, min(wait, left)); err != nil {
			return o, fmt.Errorf("executor: entry %s: %w", o.ID, err)
		}

		got, err := c.broker.GetOrderStatus(ctx, o.ID)
		switch {
		case err == nil:
			o = got
			wait = c.cfg.FillPollInterval
		case errors.Is(err, domain.ErrBrokerTransient):
			wait = min(wait*2, c.cfg.FillPollInterval*maxFillBackoffFactor)
			c.logger.DebugContext(ctx, "executor: fill poll transient error",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		default:
			return o, fmt.Errorf("executor: entry %s status: %w", o.ID, err)
		}
	}
}

// abandonEntry cancels an entry that did not complete and reports whether
// any quantity filled anyway. A partial fill must still be protected.
func (c *Coordinator) abandonEntry(ctx context.Context, o domain.Order) (domain.Order, bool) {
	dctx, cancel := c.detached(ctx)
	defer cancel()
	if !o.Status.Terminal() {
		if err := c.broker.CancelOrder(dctx, o.ID); err != nil {
			c.logger.WarnContext(ctx, "executor: cancel unfilled entry failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
		if got, err := c.broker.GetOrderStatus(dctx, o.ID); err == nil {
			o = got
		}
	}
	return o, o.FilledQty > 0
}

// ExitLevels shifts the signal's stop and target offsets onto the actual
// fill price. A missing or wrong-side stop defaults to 2% of the fill, a
// missing target to twice the stop distance.
func ExitLevels(sig domain.Signal, fill float64) (target, stop float64) {
	dir := 1.0
	if sig.Direction == domain.GapDown {
		dir = -1
	}
	stopOff := (sig.EntryPrice - sig.StopLoss) * dir
	if sig.StopLoss <= 0 || stopOff <= 0 || stopOff >= fill {
		stopOff = fill * defaultStopFraction
	}
	targetOff := (sig.ProfitTarget - sig.EntryPrice) * dir
	if sig.ProfitTarget <= 0 || targetOff <= 0 || (dir < 0 && targetOff >= fill) {
		targetOff = stopOff * defaultRewardRatio
		if dir < 0 && targetOff >= fill {
			targetOff = fill / 2
		}
	}
	return roundCents(fill + dir*targetOff), roundCents(fill - dir*stopOff)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// protect places the bracket exit, or a single stop-loss when the bracket
// is refused. If both fail the trade is marked unprotected.
func (c *Coordinator) protect(ctx context.Context, log *slog.Logger, t *domain.Trade) error {
	target, stop := ExitLevels(t.Signal, t.FillPrice)
	b, err := c.broker.PlaceBracketExit(ctx, t.Signal.Symbol, t.Quantity, target, stop, t.FillPrice)
	if err == nil {
		c.analytics.orderPlaced()
		t.Bracket = &b
		t.Status = domain.TradeExitProtected
		log.InfoContext(ctx, "executor: exit protected",
			slog.String("trade_id", t.ID),
			slog.String("bracket_id", b.ID),
			slog.Float64("target", target),
			slog.Float64("stop", stop),
		)
		return nil
	}
	log.WarnContext(ctx, "executor: bracket failed, placing fallback stop",
		slog.String("trade_id", t.ID),
		slog.String("error", err.Error()),
	)

	so, ferr := c.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   t.Signal.Symbol,
		Side:     t.Signal.ExitSide(),
		Quantity: t.Quantity,
		Kind:     domain.OrderKindStopMarket,
		Trigger:  stop,
		Tag:      t.Signal.ID + "-stop",
	})
	if ferr == nil {
		c.analytics.orderPlaced()
		t.Bracket = &domain.BracketExit{
			ID:        so.ID,
			Symbol:    t.Signal.Symbol,
			Side:      t.Signal.ExitSide(),
			Quantity:  t.Quantity,
			Stop:      domain.BracketLeg{OrderID: so.ID, Kind: domain.OrderKindStopMarket, Trigger: stop},
			Status:    domain.BracketActive,
			CreatedAt: c.now(),
			Fallback:  true,
		}
		t.Status = domain.TradeExitProtected
		log.WarnContext(ctx, "executor: protected by fallback stop only",
			slog.String("trade_id", t.ID),
			slog.String("order_id", so.ID),
			slog.Float64("stop", stop),
		)
		return nil
	}

	c.analytics.orderRejected()
	t.Unprotected = true
	log.ErrorContext(ctx, "executor: position unprotected, manual intervention required",
		slog.String("severity", string(domain.SeverityCritical)),
		slog.String("trade_id", t.ID),
		slog.String("bracket_error", err.Error()),
		slog.String("stop_error", ferr.Error()),
	)
	c.notify(ctx, domain.Event{
		Kind:     domain.EventProtectionFailure,
		Severity: domain.SeverityCritical,
		Symbol:   t.Signal.Symbol,
		TradeID:  t.ID,
		Title:    "Position unprotected",
		Message:  fmt.Sprintf("bracket: %v; fallback stop: %v", err, ferr),
	})
	return fmt.Errorf("executor: protect %s: %w", t.Signal.Symbol, errors.Join(domain.ErrProtectionFailure, err, ferr))
}

// register records the trade and starts its monitor. If an emergency stop
// landed while the trade was being opened it is exited at once.
func (c *Coordinator) register(ctx context.Context, t domain.Trade) {
	c.trades.add(t)
	c.analytics.tradeOpened()
	if c.sink != nil {
		if err := c.sink.RecordTrade(ctx, t); err != nil {
			c.logger.WarnContext(ctx, "executor: record trade failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	kind, title := domain.EventTradeProtected, "Trade opened"
	if t.Unprotected {
		kind, title = domain.EventTradeEntry, "Trade opened without protection"
	}
	c.notify(ctx, domain.Event{
		Kind:     kind,
		Severity: domain.SeverityLow,
		Symbol:   t.Signal.Symbol,
		TradeID:  t.ID,
		Title:    title,
		Message:  fmt.Sprintf("%s %d @ %.2f", t.Signal.EntrySide(), t.Quantity, t.FillPrice),
	})

	if c.emergency.Load() {
		c.logger.WarnContext(ctx, "executor: trade opened during emergency stop, exiting", slog.String("trade_id", t.ID))
		_ = c.exitTrade(ctx, t.ID, domain.ExitReasonEmergencyStop)
		return
	}
	c.startMonitor(t)
}

func (c *Coordinator) notify(ctx context.Context, ev domain.Event) {
	if c.notifier == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "executor: notify failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
