package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Nested values
// (signal, entry order, bracket, sizing) are stored as JSONB.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, status, quantity, fill_price, exit_price, exit_reason,
	exit_order_id, exit_failure, unprotected, signal, entry_order, bracket, sizing,
	entry_time, completed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var status string
	var signal, entry, bracket, sizing []byte
	if err := row.Scan(
		&t.ID, &status, &t.Quantity, &t.FillPrice, &t.ExitPrice, &t.ExitReason,
		&t.ExitOrderID, &t.ExitFailure, &t.Unprotected, &signal, &entry, &bracket, &sizing,
		&t.EntryTime, &t.CompletedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Status = domain.TradeStatus(status)

	if err := json.Unmarshal(signal, &t.Signal); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	if err := json.Unmarshal(entry, &t.EntryOrder); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal entry order: %w", err)
	}
	if err := json.Unmarshal(sizing, &t.Sizing); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal sizing: %w", err)
	}
	if bracket != nil {
		var b domain.BracketExit
		if err := json.Unmarshal(bracket, &b); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal bracket: %w", err)
		}
		t.Bracket = &b
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Upsert writes the full trade, replacing any earlier version.
func (s *TradeStore) Upsert(ctx context.Context, t domain.Trade) error {
	signal, err := json.Marshal(t.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal signal: %w", err)
	}
	entry, err := json.Marshal(t.EntryOrder)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry order: %w", err)
	}
	sizing, err := json.Marshal(t.Sizing)
	if err != nil {
		return fmt.Errorf("postgres: marshal sizing: %w", err)
	}
	var bracket []byte
	if t.Bracket != nil {
		if bracket, err = json.Marshal(t.Bracket); err != nil {
			return fmt.Errorf("postgres: marshal bracket: %w", err)
		}
	}

	const query = `
		INSERT INTO trades (
			id, signal_id, symbol, direction, status, quantity, fill_price,
			exit_price, exit_reason, exit_order_id, exit_failure, unprotected,
			signal, entry_order, bracket, sizing, entry_time, completed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			exit_price    = EXCLUDED.exit_price,
			exit_reason   = EXCLUDED.exit_reason,
			exit_order_id = EXCLUDED.exit_order_id,
			exit_failure  = EXCLUDED.exit_failure,
			unprotected   = EXCLUDED.unprotected,
			bracket       = EXCLUDED.bracket,
			completed_at  = EXCLUDED.completed_at,
			updated_at    = NOW()`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.Signal.ID, t.Signal.Symbol, string(t.Signal.Direction), string(t.Status),
		t.Quantity, t.FillPrice, t.ExitPrice, t.ExitReason, t.ExitOrderID, t.ExitFailure,
		t.Unprotected, signal, entry, bracket, sizing, t.EntryTime, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateStatus moves a trade to status. Terminal statuses stamp
// completed_at once.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, reason string) error {
	var completed *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completed = &now
	}
	const query = `
		UPDATE trades SET
			status       = $1,
			exit_reason  = CASE WHEN $2::text = '' THEN exit_reason ELSE $2::text END,
			completed_at = COALESCE(completed_at, $3::timestamptz),
			updated_at   = NOW()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query, string(status), reason, completed, id)
	if err != nil {
		return fmt.Errorf("postgres: update trade status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns one trade. Missing rows map to domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListOpen returns trades still holding a position, oldest first.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = ANY($1) ORDER BY entry_time`,
		[]string{string(domain.TradeEntryFilled), string(domain.TradeExitProtected)})
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosed returns terminal trades, most recently completed first.
func (s *TradeStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM trades WHERE status = ANY($1) AND completed_at IS NOT NULL`,
		[]any{[]string{string(domain.TradeCompleted), string(domain.TradeEmergencyExited)}},
		"completed_at", "DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}
