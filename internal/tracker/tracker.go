// Package tracker keeps a polled, read-only view of broker positions.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const (
	defaultPollInterval = 5 * time.Second
	priceFetchLimit     = 4
)

// PositionSource reports open broker positions.
type PositionSource interface {
	GetPositions(ctx context.Context) ([]domain.RawPosition, error)
}

// PriceSource supplies validated last prices.
type PriceSource interface {
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceMarker receives every price the tracker settles on. The paper
// broker implements it so resting exit orders see the market move.
type PriceMarker interface {
	Mark(symbol string, price float64)
}

type snapshot struct {
	positions map[string]domain.PositionStatus
	at        time.Time
}

// Tracker polls the broker and publishes the tracked positions by
// replacing one immutable map per tick.
type Tracker struct {
	broker   PositionSource
	prices   PriceSource
	marker   PriceMarker
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	current atomic.Pointer[snapshot]
	polls   atomic.Int64
	fails   atomic.Int64
}

// New creates a Tracker. prices may be nil, in which case the broker's own
// last price is used. If broker implements PriceMarker it is marked with
// every settled price.
func New(broker PositionSource, prices PriceSource, interval time.Duration, logger *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	t := &Tracker{
		broker:   broker,
		prices:   prices,
		interval: interval,
		logger:   logger.With(slog.String("component", "tracker")),
		now:      time.Now,
	}
	if m, ok := broker.(PriceMarker); ok {
		t.marker = m
	}
	t.current.Store(&snapshot{positions: map[string]domain.PositionStatus{}})
	return t
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "tracker: started", slog.Duration("interval", t.interval))
	if err := t.Poll(ctx); err != nil && ctx.Err() == nil {
		t.logger.WarnContext(ctx, "tracker: poll failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Poll(ctx); err != nil && ctx.Err() == nil {
				t.logger.WarnContext(ctx, "tracker: poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Poll fetches positions once and replaces the snapshot. On error the
// previous snapshot is kept.
func (t *Tracker) Poll(ctx context.Context) error {
	t.polls.Add(1)
	raw, err := t.broker.GetPositions(ctx)
	if err != nil {
		t.fails.Add(1)
		return fmt.Errorf("tracker: get positions: %w", err)
	}

	held := make([]domain.RawPosition, 0, len(raw))
	for _, p := range raw {
		if p.Quantity != 0 {
			held = append(held, p)
		}
	}
	prices := t.settlePrices(ctx, held)

	now := t.now()
	next := make(map[string]domain.PositionStatus, len(held))
	for i, p := range held {
		next[p.Symbol] = status(p, prices[i], now)
		if t.marker != nil {
			t.marker.Mark(p.Symbol, prices[i])
		}
	}

	prev := t.current.Swap(&snapshot{positions: next, at: now})
	for sym := range prev.positions {
		if _, ok := next[sym]; !ok {
			t.logger.InfoContext(ctx, "tracker: position closed", slog.String("symbol", sym))
		}
	}
	return nil
}

// settlePrices picks a current price per position: the oracle when it
// answers, else the broker's last price, else the average price.
func (t *Tracker) settlePrices(ctx context.Context, held []domain.RawPosition) []float64 {
	out := make([]float64, len(held))
	for i, p := range held {
		out[i] = p.LastPrice
		if out[i] <= 0 {
			out[i] = p.AveragePrice
		}
	}
	if t.prices == nil {
		return out
	}

	var g errgroup.Group
	g.SetLimit(priceFetchLimit)
	for i, p := range held {
		g.Go(func() error {
			price, err := t.prices.GetLastPrice(ctx, p.Symbol)
			if err != nil {
				t.logger.DebugContext(ctx, "tracker: oracle price unavailable",
					slog.String("symbol", p.Symbol),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if price > 0 {
				out[i] = price
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func status(p domain.RawPosition, price float64, at time.Time) domain.PositionStatus {
	pnl := (price - p.AveragePrice) * float64(p.Quantity)
	var pct float64
	if p.AveragePrice > 0 {
		pct = (price - p.AveragePrice) / p.AveragePrice * 100
		if p.Quantity < 0 {
			pct = -pct
		}
	}
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return domain.PositionStatus{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		EntryPrice:    p.AveragePrice,
		CurrentPrice:  price,
		PnL:           pnl,
		PnLPercent:    pct,
		UnrealizedPnL: pnl,
		DayPnL:        p.DayPnL,
		Value:         price * float64(qty),
		UpdatedAt:     at,
	}
}

// GetPosition returns the tracked position for symbol.
func (t *Tracker) GetPosition(symbol string) (domain.PositionStatus, bool) {
	p, ok := t.current.Load().positions[symbol]
	return p, ok
}

// GetAllPositions returns a copy of every tracked position.
func (t *Tracker) GetAllPositions() map[string]domain.PositionStatus {
	return maps.Clone(t.current.Load().positions)
}

// Count returns the number of tracked positions.
func (t *Tracker) Count() int {
	return len(t.current.Load().positions)
}

// UpdatedAt is the time of the last successful poll, zero before the first.
func (t *Tracker) UpdatedAt() time.Time {
	return t.current.Load().at
}

// Stats reports poll totals.
func (t *Tracker) Stats() (polls, failures int64) {
	return t.polls.Load(), t.fails.Load()
}
