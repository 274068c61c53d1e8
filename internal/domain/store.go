package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trade aggregates.
type TradeStore interface {
	Upsert(ctx context.Context, t Trade) error
	UpdateStatus(ctx context.Context, id string, status TradeStatus, reason string) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListOpen(ctx context.Context) ([]Trade, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Trade, error)
}

// OrderStore persists broker orders linked to a trade.
type OrderStore interface {
	Upsert(ctx context.Context, tradeID string, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListByTrade(ctx context.Context, tradeID string) ([]Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
