// Package service persists and publishes what the execution core produces:
// trade records, lifecycle events and archives.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Archiver uploads a closed trade to cold storage.
type Archiver interface {
	ArchiveTrade(ctx context.Context, t domain.Trade) error
}

// TradeLookup returns the live in-memory view of a trade.
type TradeLookup func(id string) (domain.Trade, bool)

// TradeService implements domain.TradeSink over the optional stores. Every
// dependency may be nil; the matching side effect is then skipped.
type TradeService struct {
	trades   domain.TradeStore
	orders   domain.OrderStore
	audit    domain.AuditStore
	archiver Archiver
	logger   *slog.Logger

	mu     sync.RWMutex
	lookup TradeLookup
}

var _ domain.TradeSink = (*TradeService)(nil)

// NewTradeService creates a TradeService.
func NewTradeService(
	trades domain.TradeStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	archiver Archiver,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades:   trades,
		orders:   orders,
		audit:    audit,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "trade-service")),
	}
}

// Attach installs the lookup used to capture exit details when a trade
// reaches a terminal status.
func (s *TradeService) Attach(lookup TradeLookup) {
	s.mu.Lock()
	s.lookup = lookup
	s.mu.Unlock()
}

// RecordTrade stores a new trade with its entry order and audits it.
func (s *TradeService) RecordTrade(ctx context.Context, t domain.Trade) error {
	var errs []error
	if s.trades != nil {
		if err := s.trades.Upsert(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	if s.orders != nil && t.EntryOrder.ID != "" {
		if err := s.orders.Upsert(ctx, t.ID, t.EntryOrder); err != nil {
			errs = append(errs, err)
		}
	}
	s.auditLog(ctx, "trade.opened", map[string]any{
		"trade_id":    t.ID,
		"symbol":      t.Signal.Symbol,
		"direction":   string(t.Signal.Direction),
		"quantity":    t.Quantity,
		"fill_price":  t.FillPrice,
		"status":      string(t.Status),
		"unprotected": t.Unprotected,
	})
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("trade_service: record %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTradeStatus records a status change. Terminal trades are written in
// full when a lookup is attached, then archived.
func (s *TradeService) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus, reason string) error {
	var errs []error
	full, ok := s.find(id)
	switch {
	case s.trades == nil:
	case status.Terminal() && ok:
		full.Status = status
		if err := s.trades.Upsert(ctx, full); err != nil {
			errs = append(errs, err)
		}
	default:
		if err := s.trades.UpdateStatus(ctx, id, status, reason); err != nil {
			errs = append(errs, err)
		}
	}

	detail := map[string]any{"trade_id": id, "status": string(status), "reason": reason}
	if ok && status.Terminal() {
		detail["exit_price"] = full.ExitPrice
		detail["pnl"] = full.PnL()
	}
	s.auditLog(ctx, "trade.status", detail)

	if status.Terminal() && ok && s.archiver != nil {
		if err := s.archiver.ArchiveTrade(ctx, full); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("trade_service: update %s: %w", id, err)
	}
	return nil
}

func (s *TradeService) find(id string) (domain.Trade, bool) {
	s.mu.RLock()
	lookup := s.lookup
	s.mu.RUnlock()
	if lookup == nil {
		return domain.Trade{}, false
	}
	return lookup(id)
}

// auditLog writes an audit row. Failures are logged, not returned.
func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// ClosedReturns returns the fractional returns of the last n closed trades
// in chronological order, for seeding the performance ledger.
func (s *TradeService) ClosedReturns(ctx context.Context, n int) ([]float64, error) {
	if s.trades == nil {
		return nil, nil
	}
	closed, err := s.trades.ListClosed(ctx, domain.ListOpts{Limit: n})
	if err != nil {
		return nil, fmt.Errorf("trade_service: list closed: %w", err)
	}
	// ListClosed is newest first.
	slices.Reverse(closed)
	out := make([]float64, 0, len(closed))
	for _, t := range closed {
		out = append(out, t.ReturnPct())
	}
	return out, nil
}

// History returns closed trades from the store, newest first.
func (s *TradeService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	if s.trades == nil {
		return nil, nil
	}
	trades, err := s.trades.ListClosed(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: history: %w", err)
	}
	return trades, nil
}

// Orders returns the stored orders of one trade.
func (s *TradeService) Orders(ctx context.Context, tradeID string) ([]domain.Order, error) {
	if s.orders == nil {
		return nil, nil
	}
	orders, err := s.orders.ListByTrade(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("trade_service: orders for %s: %w", tradeID, err)
	}
	return orders, nil
}
