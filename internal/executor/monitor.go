package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

type monitorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startMonitor spawns the lifecycle monitor for t. Monitors are not started
// once Shutdown has begun.
func (c *Coordinator) startMonitor(t domain.Trade) {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	if c.closing {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &monitorHandle{cancel: cancel, done: make(chan struct{})}
	c.monitors[t.ID] = h
	go func() {
		defer close(h.done)
		defer c.dropMonitor(t.ID, h)
		c.monitor(ctx, t)
	}()
}

func (c *Coordinator) dropMonitor(id string, h *monitorHandle) {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	if c.monitors[id] == h {
		delete(c.monitors, id)
	}
}

// stopMonitors cancels every monitor and waits for them to return or for
// ctx to end.
func (c *Coordinator) stopMonitors(ctx context.Context) error {
	c.monMu.Lock()
	handles := make([]*monitorHandle, 0, len(c.monitors))
	for _, h := range c.monitors {
		h.cancel()
		handles = append(handles, h)
	}
	c.monMu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ActiveMonitors returns the number of running lifecycle monitors.
func (c *Coordinator) ActiveMonitors() int {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	return len(c.monitors)
}

// monitor watches one trade until its position disappears from the tracker,
// the holding limit passes, or ctx is cancelled.
func (c *Coordinator) monitor(ctx context.Context, t domain.Trade) {
	log := c.logger.With(slog.String("trade_id", t.ID), slog.String("symbol", t.Signal.Symbol))
	log.DebugContext(ctx, "executor: monitor started")
	defer log.DebugContext(ctx, "executor: monitor stopped")

	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()
	limit := time.NewTimer(max(t.EntryTime.Add(c.cfg.MaxHolding).Sub(c.now()), 0))
	defer limit.Stop()

	lastPrice := t.FillPrice
	for {
		select {
		case <-ctx.Done():
			return
		case <-limit.C:
			log.InfoContext(ctx, "executor: holding limit reached", slog.Duration("max_holding", c.cfg.MaxHolding))
			_ = c.exitTrade(ctx, t.ID, domain.ExitReasonTimeLimit)
			return
		case <-ticker.C:
			done, price := c.checkTrade(ctx, log, t, lastPrice)
			if done {
				return
			}
			lastPrice = price
		}
	}
}

// checkTrade runs one monitor tick. It reports true once the trade has left
// the open states.
func (c *Coordinator) checkTrade(ctx context.Context, log *slog.Logger, t domain.Trade, lastPrice float64) (bool, float64) {
	cur, ok := c.trades.get(t.ID)
	if !ok || !cur.Status.Open() {
		return true, lastPrice
	}

	pos, held := c.positions.GetPosition(t.Signal.Symbol)
	if !held {
		// Only a poll taken after the entry can prove the position is gone.
		if !c.positions.UpdatedAt().After(t.EntryTime) {
			return false, lastPrice
		}
		c.completeTrade(ctx, log, cur, lastPrice)
		return true, lastPrice
	}

	price := pos.CurrentPrice
	if price <= 0 {
		price = lastPrice
	}
	for _, a := range c.gate.MonitorPosition(ctx, cur, price) {
		c.notify(ctx, domain.Event{
			Kind:     domain.EventRiskAlert,
			Severity: a.Severity,
			Symbol:   a.Symbol,
			TradeID:  t.ID,
			Title:    string(a.Type),
			Message:  a.Message,
			Alert:    &a,
		})
	}
	if c.now().Sub(t.EntryTime) >= c.cfg.MaxHolding {
		log.InfoContext(ctx, "executor: holding limit reached", slog.Duration("max_holding", c.cfg.MaxHolding))
		_ = c.exitTrade(ctx, t.ID, domain.ExitReasonTimeLimit)
		return true, price
	}
	return false, price
}

// completeTrade closes a trade whose position the broker no longer holds.
func (c *Coordinator) completeTrade(ctx context.Context, log *slog.Logger, t domain.Trade, lastPrice float64) {
	if _, ok := c.trades.beginExit(t.ID); !ok {
		return
	}
	exit := c.filledExitPrice(ctx, t)
	if exit <= 0 {
		exit = lastPrice
	}
	done, ok := c.trades.finish(t.ID, domain.TradeCompleted, domain.ExitReasonPositionClosed, exit, "", "", c.now())
	if !ok {
		return
	}
	log.InfoContext(ctx, "executor: trade completed",
		slog.Float64("exit_price", exit),
		slog.Float64("pnl", done.PnL()),
	)
	c.closed(ctx, done)
}

// filledExitPrice asks the broker which protective leg filled.
func (c *Coordinator) filledExitPrice(ctx context.Context, t domain.Trade) float64 {
	if t.Bracket == nil {
		return 0
	}
	for _, id := range []string{t.Bracket.Target.OrderID, t.Bracket.Stop.OrderID} {
		if id == "" {
			continue
		}
		o, err := c.broker.GetOrderStatus(ctx, id)
		if err == nil && o.Status == domain.OrderStatusComplete && o.AveragePrice > 0 {
			return o.AveragePrice
		}
	}
	return 0
}

// exitTrade cancels the trade's protection and flattens it with an opposing
// MARKET order. A failed exit order leaves the trade EMERGENCY_EXITED with
// the failure recorded; it never returns to EXIT_PROTECTED. A protective leg
// that filled first means the position is already flat, and the trade
// completes at that leg's price instead.
func (c *Coordinator) exitTrade(ctx context.Context, id, reason string) error {
	t, ok := c.trades.beginExit(id)
	if !ok {
		return nil
	}
	ctx, cancel := c.detached(ctx)
	defer cancel()
	log := c.logger.With(slog.String("trade_id", t.ID), slog.String("symbol", t.Signal.Symbol))

	qty := t.Quantity
	price := t.FillPrice
	if c.cancelProtection(ctx, log, t) {
		c.settleClosed(ctx, log, t, price, "executor: protection filled before exit", reason)
		return nil
	}

	pos, held := c.positions.GetPosition(t.Signal.Symbol)
	switch {
	case held:
		price = pos.CurrentPrice
		if q := abs64(pos.Quantity); q < qty {
			qty = q
		}
	case c.positions.UpdatedAt().After(t.EntryTime):
		c.settleClosed(ctx, log, t, price, "executor: position already closed", reason)
		return nil
	}

	o, err := c.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   t.Signal.Symbol,
		Side:     t.Signal.ExitSide(),
		Quantity: qty,
		Kind:     domain.OrderKindMarket,
		Price:    price,
		Tag:      t.Signal.ID + "-exit",
	})
	if err != nil {
		c.analytics.orderRejected()
		done, _ := c.trades.finish(t.ID, domain.TradeEmergencyExited, reason, 0, "", err.Error(), c.now())
		log.ErrorContext(ctx, "executor: emergency exit failed, manual intervention required",
			slog.String("severity", string(domain.SeverityCritical)),
			slog.String("reason", reason),
			slog.Int64("quantity", qty),
			slog.String("error", err.Error()),
		)
		c.notify(ctx, domain.Event{
			Kind:     domain.EventExitFailure,
			Severity: domain.SeverityCritical,
			Symbol:   t.Signal.Symbol,
			TradeID:  t.ID,
			Title:    "Emergency exit failed",
			Message:  fmt.Sprintf("%s %d: %v", t.Signal.ExitSide(), qty, err),
		})
		c.persistStatus(ctx, done)
		return fmt.Errorf("executor: exit %s: %w", t.Signal.Symbol, err)
	}
	c.analytics.orderPlaced()

	exit := price
	if o.Status == domain.OrderStatusComplete && o.AveragePrice > 0 {
		exit = o.AveragePrice
	}
	done, ok := c.trades.finish(t.ID, domain.TradeEmergencyExited, reason, exit, o.ID, "", c.now())
	if !ok {
		return nil
	}
	log.WarnContext(ctx, "executor: trade exited",
		slog.String("reason", reason),
		slog.String("order_id", o.ID),
		slog.Float64("exit_price", exit),
	)
	c.closed(ctx, done)
	return nil
}

// cancelProtection pulls the trade's exit orders before a manual exit and
// reports whether one of them had already filled.
func (c *Coordinator) cancelProtection(ctx context.Context, log *slog.Logger, t domain.Trade) bool {
	b := t.Bracket
	if b == nil {
		return false
	}
	if b.Fallback {
		err := c.broker.CancelOrder(ctx, b.Stop.OrderID)
		if err == nil {
			return false
		}
		if o, serr := c.broker.GetOrderStatus(ctx, b.Stop.OrderID); serr == nil && o.Status == domain.OrderStatusComplete {
			return true
		}
		log.WarnContext(ctx, "executor: cancel protection failed", slog.String("error", err.Error()))
		return false
	}
	err := c.broker.CancelBracketExit(ctx, b.ID)
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrProtectionTriggered):
		return true
	}
	log.WarnContext(ctx, "executor: cancel protection failed", slog.String("error", err.Error()))
	return false
}

// settleClosed finishes a trade whose position the broker already closed.
func (c *Coordinator) settleClosed(ctx context.Context, log *slog.Logger, t domain.Trade, fallback float64, msg, reason string) {
	exit := c.filledExitPrice(ctx, t)
	if exit <= 0 {
		exit = fallback
	}
	done, ok := c.trades.finish(t.ID, domain.TradeCompleted, domain.ExitReasonPositionClosed, exit, "", "", c.now())
	if !ok {
		return
	}
	log.InfoContext(ctx, msg,
		slog.String("reason", reason),
		slog.Float64("exit_price", exit),
		slog.Float64("pnl", done.PnL()),
	)
	c.closed(ctx, done)
}

// closed books a terminal trade into performance, stats, the sink and the
// notifier.
func (c *Coordinator) closed(ctx context.Context, t domain.Trade) {
	c.ledger.Add(t.ReturnPct())
	c.analytics.tradeClosed(t.PnL())
	c.persistStatus(ctx, t)
	c.notify(ctx, domain.Event{
		Kind:     domain.EventTradeExit,
		Severity: domain.SeverityLow,
		Symbol:   t.Signal.Symbol,
		TradeID:  t.ID,
		Title:    "Trade closed",
		Message:  fmt.Sprintf("%s @ %.2f, pnl %.2f", t.ExitReason, t.ExitPrice, t.PnL()),
	})
}

func (c *Coordinator) persistStatus(ctx context.Context, t domain.Trade) {
	if c.sink == nil || t.ID == "" {
		return
	}
	reason := t.ExitReason
	if t.ExitFailure != "" {
		reason += ": " + t.ExitFailure
	}
	if err := c.sink.UpdateTradeStatus(ctx, t.ID, t.Status, reason); err != nil {
		c.logger.WarnContext(ctx, "executor: update trade status failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

// EmergencyStopAll sets the emergency flag, stops every monitor and exits
// every open trade before returning. Calling it again is a no-op.
func (c *Coordinator) EmergencyStopAll(ctx context.Context, reason string) error {
	if !c.emergency.CompareAndSwap(false, true) {
		c.logger.InfoContext(ctx, "executor: emergency stop already active", slog.String("reason", reason))
		return nil
	}
	c.emMu.Lock()
	c.emReason, c.emAt = reason, c.now()
	c.emMu.Unlock()

	c.logger.ErrorContext(ctx, "executor: emergency stop",
		slog.String("severity", string(domain.SeverityCritical)),
		slog.String("reason", reason),
	)
	c.gate.Halt(ctx, "Emergency stop: "+reason)

	if err := c.stopMonitors(ctx); err != nil {
		c.logger.WarnContext(ctx, "executor: monitors did not stop in time", slog.String("error", err.Error()))
	}

	open := c.trades.open()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.exitTrade(ctx, t.ID, domain.ExitReasonEmergencyStop); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	c.notify(ctx, domain.Event{
		Kind:     domain.EventEmergencyStop,
		Severity: domain.SeverityCritical,
		Title:    "Emergency stop",
		Message:  fmt.Sprintf("%s (%d trades exited, %d failed)", reason, len(open)-len(errs), len(errs)),
	})
	return errors.Join(errs...)
}

// EmergencyState reports the emergency flag.
type EmergencyState struct {
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	Triggered time.Time `json:"triggered,omitempty"`
}

// Emergency returns the emergency flag and its reason.
func (c *Coordinator) Emergency() EmergencyState {
	c.emMu.Lock()
	defer c.emMu.Unlock()
	if !c.emergency.Load() {
		return EmergencyState{}
	}
	return EmergencyState{Active: true, Reason: c.emReason, Triggered: c.emAt}
}

// Resume clears the emergency flag and lifts the risk gate halt. Symbols
// left held by failed exits become tradable again; the operator resuming is
// taken to mean those positions were dealt with.
func (c *Coordinator) Resume(ctx context.Context, overrideReason string) {
	if c.emergency.CompareAndSwap(true, false) {
		c.logger.WarnContext(ctx, "executor: emergency stop cleared", slog.String("override_reason", overrideReason))
	}
	if freed := c.trades.releaseStuck(); len(freed) > 0 {
		c.logger.WarnContext(ctx, "executor: released symbols held by failed exits", slog.Any("symbols", freed))
	}
	c.gate.Resume(ctx, overrideReason)
}

// Shutdown stops accepting monitors, cancels the running ones and waits for
// them and for in-flight executions. Open positions keep their broker-side
// protection.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.monMu.Lock()
	c.closing = true
	c.monMu.Unlock()

	if err := c.stopMonitors(ctx); err != nil {
		return fmt.Errorf("executor: shutdown: %w", err)
	}
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: shutdown: %w", ctx.Err())
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
