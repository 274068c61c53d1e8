package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memTrades struct {
	mu       sync.Mutex
	rows     map[string]domain.Trade
	statuses []domain.TradeStatus
	closed   []domain.Trade
	lastOpts domain.ListOpts
	err      error
}

func newMemTrades() *memTrades { return &memTrades{rows: map[string]domain.Trade{}} }

func (m *memTrades) Upsert(_ context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[t.ID] = t
	return nil
}

func (m *memTrades) UpdateStatus(_ context.Context, id string, status domain.TradeStatus, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	t, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	m.rows[id] = t
	return nil
}

func (m *memTrades) GetByID(_ context.Context, id string) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *memTrades) ListOpen(context.Context) ([]domain.Trade, error) { return nil, nil }

func (m *memTrades) ListClosed(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	return append([]domain.Trade(nil), m.closed...), nil
}

type memOrders struct{ rows map[string]string }

func (m *memOrders) Upsert(_ context.Context, tradeID string, o domain.Order) error {
	m.rows[o.ID] = tradeID
	return nil
}
func (m *memOrders) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (m *memOrders) ListByTrade(context.Context, string) ([]domain.Order, error) { return nil, nil }

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}
func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memArchiver struct {
	trades []domain.Trade
	days   []time.Time
}

func (m *memArchiver) ArchiveTrade(_ context.Context, t domain.Trade) error {
	m.trades = append(m.trades, t)
	return nil
}

func (m *memArchiver) ArchiveDay(_ context.Context, day time.Time, trades []domain.Trade) (int, error) {
	m.days = append(m.days, day)
	return len(trades), nil
}

func openTrade() domain.Trade {
	return domain.Trade{
		ID:         "t-1",
		Signal:     domain.Signal{ID: "sig-1", Symbol: "RELIANCE", Direction: domain.GapUp, EntryPrice: 2475},
		EntryOrder: domain.Order{ID: "o-1", Symbol: "RELIANCE"},
		Quantity:   4,
		FillPrice:  2475,
		Status:     domain.TradeExitProtected,
		EntryTime:  time.Date(2024, 7, 19, 9, 16, 0, 0, time.UTC),
	}
}

func TestTradeService_RecordAndClose(t *testing.T) {
	trades, orders, audit, arch := newMemTrades(), &memOrders{rows: map[string]string{}}, &memAudit{}, &memArchiver{}
	svc := NewTradeService(trades, orders, audit, arch, testLogger())

	tr := openTrade()
	require.NoError(t, svc.RecordTrade(context.Background(), tr))
	assert.Equal(t, "t-1", orders.rows["o-1"])

	closed := tr
	closed.Status = domain.TradeCompleted
	closed.ExitPrice = 2625
	svc.Attach(func(id string) (domain.Trade, bool) { return closed, id == "t-1" })

	require.NoError(t, svc.UpdateTradeStatus(context.Background(), "t-1", domain.TradeCompleted, domain.ExitReasonPositionClosed))
	stored, err := trades.GetByID(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2625.0, stored.ExitPrice)
	assert.Equal(t, domain.TradeCompleted, stored.Status)
	require.Len(t, arch.trades, 1)
	assert.Equal(t, "t-1", arch.trades[0].ID)
	assert.Equal(t, []string{"trade.opened", "trade.status"}, audit.events)
}

func TestTradeService_NonTerminalUsesStatusUpdate(t *testing.T) {
	trades, arch := newMemTrades(), &memArchiver{}
	svc := NewTradeService(trades, nil, nil, arch, testLogger())
	require.NoError(t, svc.RecordTrade(context.Background(), openTrade()))

	require.NoError(t, svc.UpdateTradeStatus(context.Background(), "t-1", domain.TradeEntryFilled, ""))
	assert.Equal(t, []domain.TradeStatus{domain.TradeEntryFilled}, trades.statuses)
	assert.Empty(t, arch.trades)
}

func TestTradeService_NilStoresAreSkipped(t *testing.T) {
	svc := NewTradeService(nil, nil, nil, nil, testLogger())
	require.NoError(t, svc.RecordTrade(context.Background(), openTrade()))
	require.NoError(t, svc.UpdateTradeStatus(context.Background(), "t-1", domain.TradeCompleted, ""))
	rets, err := svc.ClosedReturns(context.Background(), 20)
	require.NoError(t, err)
	assert.Nil(t, rets)
}

func TestTradeService_RecordErrorIsWrapped(t *testing.T) {
	trades := newMemTrades()
	trades.err = errors.New("db down")
	svc := NewTradeService(trades, nil, nil, nil, testLogger())
	err := svc.RecordTrade(context.Background(), openTrade())
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
}

func TestTradeService_ClosedReturnsChronological(t *testing.T) {
	trades := newMemTrades()
	mk := func(exit float64) domain.Trade {
		return domain.Trade{Signal: domain.Signal{Direction: domain.GapUp}, FillPrice: 100, ExitPrice: exit}
	}
	trades.closed = []domain.Trade{mk(103), mk(99), mk(101)} // newest first
	svc := NewTradeService(trades, nil, nil, nil, testLogger())

	rets, err := svc.ClosedReturns(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, rets, 3)
	assert.InDelta(t, 0.01, rets[0], 1e-9)
	assert.InDelta(t, -0.01, rets[1], 1e-9)
	assert.InDelta(t, 0.03, rets[2], 1e-9)
	assert.Equal(t, 20, trades.lastOpts.Limit)
}

type recNotifier struct{ got []domain.Event }

func (r *recNotifier) Notify(_ context.Context, ev domain.Event) error {
	r.got = append(r.got, ev)
	return nil
}

type failingBus struct{}

func (failingBus) PublishEvent(context.Context, domain.Event) error { return errors.New("bus down") }

func TestEventService_FansOut(t *testing.T) {
	n := &recNotifier{}
	svc := NewEventService(n, failingBus{}, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 7, 19, 9, 0, 0, 0, time.UTC) }

	err := svc.Notify(context.Background(), domain.Event{Kind: domain.EventEmergencyStop, Severity: domain.SeverityCritical})
	assert.ErrorContains(t, err, "bus down")
	require.Len(t, n.got, 1, "bus failure must not block the notifier")
	assert.Equal(t, 2024, n.got[0].Time.Year())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, logLevel(domain.SeverityCritical))
	assert.Equal(t, slog.LevelWarn, logLevel(domain.SeverityHigh))
	assert.Equal(t, slog.LevelInfo, logLevel(domain.SeverityLow))
}

func TestDailyArchive(t *testing.T) {
	trades, arch := newMemTrades(), &memArchiver{}
	trades.closed = []domain.Trade{openTrade()}
	d := NewDailyArchive(trades, arch, 0, testLogger())
	d.now = func() time.Time { return time.Date(2024, 7, 20, 3, 0, 0, 0, time.UTC) }

	d.tick(context.Background())
	d.tick(context.Background()) // same day: nothing new

	require.Len(t, arch.days, 1)
	assert.Equal(t, time.Date(2024, 7, 19, 0, 0, 0, 0, time.UTC), arch.days[0])
	require.NotNil(t, trades.lastOpts.Since)
	assert.Equal(t, arch.days[0], *trades.lastOpts.Since)
	assert.True(t, trades.lastOpts.Until.Before(time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)))

	d.now = func() time.Time { return time.Date(2024, 7, 21, 0, 5, 0, 0, time.UTC) }
	d.tick(context.Background())
	assert.Len(t, arch.days, 2)
}
