package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, parent_id, symbol, side, kind, quantity, filled_qty,
	price, trigger_price, average_price, status, tag, message, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var side, kind, status string
	err := row.Scan(
		&o.ID, &o.ParentID, &o.Symbol, &side, &kind, &o.Quantity, &o.FilledQty,
		&o.Price, &o.Trigger, &o.AveragePrice, &status, &o.Tag, &o.Message,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(status)
	return o, err
}

// Upsert inserts the order or refreshes its mutable fields.
func (s *OrderStore) Upsert(ctx context.Context, tradeID string, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, trade_id, parent_id, symbol, side, kind, quantity, filled_qty,
			price, trigger_price, average_price, status, tag, message,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			filled_qty    = EXCLUDED.filled_qty,
			average_price = EXCLUDED.average_price,
			status        = EXCLUDED.status,
			message       = EXCLUDED.message,
			updated_at    = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, tradeID, o.ParentID, o.Symbol, string(o.Side), string(o.Kind),
		o.Quantity, o.FilledQty, o.Price, o.Trigger, o.AveragePrice,
		string(o.Status), o.Tag, o.Message, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one order. Missing rows map to domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByTrade returns a trade's orders in submission order.
func (s *OrderStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE trade_id = $1 ORDER BY created_at`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", tradeID, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
