package tracker

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

type fakeBroker struct {
	mu        sync.Mutex
	positions []domain.RawPosition
	err       error
	calls     int
}

func (f *fakeBroker) set(ps []domain.RawPosition, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions, f.err = ps, err
}

func (f *fakeBroker) GetPositions(context.Context) ([]domain.RawPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RawPosition(nil), f.positions...), nil
}

type markingBroker struct {
	fakeBroker
	marks map[string]float64
}

func (m *markingBroker) Mark(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[symbol] = price
}

type fakePrices map[string]float64

func (f fakePrices) GetLastPrice(_ context.Context, symbol string) (float64, error) {
	p, ok := f[symbol]
	if !ok {
		return 0, domain.ErrNoData
	}
	return p, nil
}

func TestPoll_ComputesStatus(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{
		{Symbol: "RELIANCE", Quantity: 6, AveragePrice: 2500, LastPrice: 2510, DayPnL: 12},
		{Symbol: "TCS", Quantity: -4, AveragePrice: 3500, LastPrice: 3400},
	}}
	tr := New(b, fakePrices{"RELIANCE": 2550}, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))

	rel, ok := tr.GetPosition("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 2550.0, rel.CurrentPrice, "oracle price wins")
	assert.InDelta(t, 300, rel.PnL, 1e-9)
	assert.InDelta(t, 2.0, rel.PnLPercent, 1e-9)
	assert.InDelta(t, 15300, rel.Value, 1e-9)
	assert.Equal(t, 12.0, rel.DayPnL)

	tcs, ok := tr.GetPosition("TCS")
	require.True(t, ok)
	assert.Equal(t, 3400.0, tcs.CurrentPrice, "falls back to broker price")
	assert.InDelta(t, 400, tcs.PnL, 1e-9)
	assert.InDelta(t, 100.0/35, tcs.PnLPercent, 1e-9)
	assert.Equal(t, 2, tr.Count())
	assert.False(t, tr.UpdatedAt().IsZero())
}

func TestPoll_RemovesClosedSymbolsSameTick(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{
		{Symbol: "INFY", Quantity: 10, AveragePrice: 1500, LastPrice: 1500},
		{Symbol: "HDFC", Quantity: 3, AveragePrice: 1600, LastPrice: 1600},
	}}
	tr := New(b, nil, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))
	require.Equal(t, 2, tr.Count())

	b.set([]domain.RawPosition{
		{Symbol: "INFY", Quantity: 0, AveragePrice: 1500},
		{Symbol: "HDFC", Quantity: 3, AveragePrice: 1600, LastPrice: 1610},
	}, nil)
	require.NoError(t, tr.Poll(context.Background()))

	_, ok := tr.GetPosition("INFY")
	assert.False(t, ok)
	hdfc, ok := tr.GetPosition("HDFC")
	require.True(t, ok)
	assert.Equal(t, 1610.0, hdfc.CurrentPrice)
}

func TestPoll_ErrorKeepsSnapshot(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{{Symbol: "SBIN", Quantity: 5, AveragePrice: 600, LastPrice: 610}}}
	tr := New(b, nil, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))
	before := tr.UpdatedAt()

	b.set(nil, errors.New("gateway timeout"))
	err := tr.Poll(context.Background())
	require.Error(t, err)

	_, ok := tr.GetPosition("SBIN")
	assert.True(t, ok, "stale snapshot survives a failed poll")
	assert.Equal(t, before, tr.UpdatedAt())
	polls, fails := tr.Stats()
	assert.Equal(t, int64(2), polls)
	assert.Equal(t, int64(1), fails)
}

func TestGetAllPositions_ReturnsCopy(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{{Symbol: "ITC", Quantity: 1, AveragePrice: 400, LastPrice: 400}}}
	tr := New(b, nil, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))

	all := tr.GetAllPositions()
	delete(all, "ITC")
	all["FAKE"] = domain.PositionStatus{Symbol: "FAKE"}

	_, ok := tr.GetPosition("ITC")
	assert.True(t, ok)
	_, ok = tr.GetPosition("FAKE")
	assert.False(t, ok)
}

func TestPoll_MarksPriceMarker(t *testing.T) {
	b := &markingBroker{marks: map[string]float64{}}
	b.positions = []domain.RawPosition{{Symbol: "WIPRO", Quantity: 2, AveragePrice: 450, LastPrice: 451}}
	tr := New(b, fakePrices{"WIPRO": 455}, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))
	assert.Equal(t, 455.0, b.marks["WIPRO"])
}

func TestPoll_PriceFallsBackToAverage(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{{Symbol: "LT", Quantity: 1, AveragePrice: 3000}}}
	tr := New(b, fakePrices{}, time.Second, testLogger())
	require.NoError(t, tr.Poll(context.Background()))
	lt, ok := tr.GetPosition("LT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, lt.CurrentPrice)
	assert.Zero(t, lt.PnL)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{{Symbol: "ONGC", Quantity: 1, AveragePrice: 250, LastPrice: 250}}}
	tr := New(b, nil, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		polls, _ := tr.Stats()
		return polls >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	_, ok := tr.GetPosition("ONGC")
	assert.True(t, ok)
}

func TestConcurrentReadsDuringPolls(t *testing.T) {
	b := &fakeBroker{positions: []domain.RawPosition{{Symbol: "A", Quantity: 1, AveragePrice: 1, LastPrice: 1}}}
	tr := New(b, nil, time.Second, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.GetAllPositions()
				_, _ = tr.GetPosition("A")
			}
		}()
	}
	for j := 0; j < 50; j++ {
		require.NoError(t, tr.Poll(context.Background()))
	}
	wg.Wait()
	assert.Equal(t, 1, tr.Count())
}
