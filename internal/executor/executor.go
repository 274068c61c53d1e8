package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const dedupCleanupInterval = 30 * time.Second

// Run executes signals from signalCh until ctx is cancelled or the channel
// closes. Each signal runs concurrently so a slow or rejected symbol never
// holds up another. Signals still buffered at shutdown are dropped, not
// traded.
func (c *Coordinator) Run(ctx context.Context, signalCh <-chan domain.Signal) error {
	c.logger.Info("executor: started")
	defer c.logger.Info("executor: stopped")

	cleanup := time.NewTicker(dedupCleanupInterval)
	defer cleanup.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.drain(signalCh)
			return ctx.Err()

		case sig, ok := <-signalCh:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.process(ctx, sig)
			}()

		case <-cleanup.C:
			c.dedup.Cleanup()
		}
	}
}

// process executes one signal from the intake loop and logs the outcome.
func (c *Coordinator) process(ctx context.Context, sig domain.Signal) {
	t, err := c.ExecuteSignal(ctx, sig)
	var rej *RejectionError
	switch {
	case err == nil:
	case errors.As(err, &rej), errors.Is(err, domain.ErrDuplicateSignal):
		// Logged by ExecuteSignal.
	case errors.Is(err, domain.ErrProtectionFailure):
		// The trade is live; its monitor owns it from here.
	default:
		c.logger.WarnContext(ctx, "executor: signal not executed",
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()),
		)
	}
	if t.ID != "" {
		c.logger.DebugContext(ctx, "executor: signal processed",
			slog.String("trade_id", t.ID),
			slog.String("status", string(t.Status)),
		)
	}
}

// drain discards signals already buffered after cancellation.
func (c *Coordinator) drain(signalCh <-chan domain.Signal) {
	for {
		select {
		case sig, ok := <-signalCh:
			if !ok {
				return
			}
			c.logger.Warn("executor: dropping signal after shutdown",
				slog.String("signal_id", sig.ID),
				slog.String("symbol", sig.Symbol),
			)
		default:
			return
		}
	}
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Emergency      EmergencyState   `json:"emergency"`
	ActiveTrades   []domain.Trade   `json:"active_trades"`
	ActiveMonitors int              `json:"active_monitors"`
	Daily          DailyStats       `json:"daily_stats"`
	Execution      ExecutionSummary `json:"execution"`
}

// Status reports active trades, counters and execution quality.
func (c *Coordinator) Status() Status {
	return Status{
		Emergency:      c.Emergency(),
		ActiveTrades:   c.trades.open(),
		ActiveMonitors: c.ActiveMonitors(),
		Daily:          c.analytics.Daily(),
		Execution:      c.analytics.Summary(),
	}
}

// Trades returns every remembered trade, oldest first.
func (c *Coordinator) Trades() []domain.Trade {
	return c.trades.all()
}

// Trade returns one trade by id.
func (c *Coordinator) Trade(id string) (domain.Trade, bool) {
	return c.trades.get(id)
}

// Ledger returns the performance ledger fed by closed trades.
func (c *Coordinator) Ledger() *Ledger {
	return c.ledger
}
