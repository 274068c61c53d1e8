package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// fakeClient records live calls.
type fakeClient struct {
	mu        sync.Mutex
	submitted []domain.OrderRequest
	brackets  []BracketRequest
	cancelled []string
	cancelErr error
	status    domain.BracketStatus
	submitErr error
}

func (f *fakeClient) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.Order{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return domain.Order{ID: "ord-1", Symbol: req.Symbol, Side: req.Side, Kind: req.Kind, Quantity: req.Quantity, Status: domain.OrderStatusPending}, nil
}

func (f *fakeClient) GetOrder(_ context.Context, id string) (domain.Order, error) {
	return domain.Order{ID: id, Status: domain.OrderStatusComplete}, nil
}

func (f *fakeClient) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeClient) SubmitBracket(_ context.Context, req BracketRequest) (domain.BracketExit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brackets = append(f.brackets, req)
	return domain.BracketExit{ID: "brk-1", Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, Status: domain.BracketActive}, nil
}

func (f *fakeClient) BracketStatus(context.Context, string) (domain.BracketStatus, error) {
	if f.status == "" {
		return domain.BracketActive, nil
	}
	return f.status, nil
}

func (f *fakeClient) GetPositions(context.Context) ([]domain.RawPosition, error) {
	return []domain.RawPosition{{Symbol: "AAPL", Quantity: 3}}, nil
}

func (f *fakeClient) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{Equity: 1000}, nil
}

func newLiveAdapter(t *testing.T, client *fakeClient, cap int) (*Adapter, *fakeClock) {
	t.Helper()
	l, clk := newFakeLimiter(LimitConfig{PerMinute: 200, DailyCap: cap}, nil)
	return New(Config{RequestTimeout: time.Second}, client, l, testLogger()), clk
}

func TestAdapter_LiveOrdersAreRateLimited(t *testing.T) {
	client := &fakeClient{}
	a, _ := newLiveAdapter(t, client, 1)
	req := domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1, Kind: domain.OrderKindMarket}

	o, err := a.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)

	_, err = a.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrDailyCapReached)
	assert.Len(t, client.submitted, 1)

	// Status queries do not count against the cap.
	got, err := a.GetOrderStatus(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusComplete, got.Status)
}

func TestAdapter_InvalidOrderNeverReachesBroker(t *testing.T) {
	client := &fakeClient{}
	a, _ := newLiveAdapter(t, client, 10)
	_, err := a.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1, Kind: domain.OrderKindLimit})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, client.submitted)
	assert.Equal(t, 0, a.limiter.Used())
}

func TestAdapter_BracketSideFollowsLevels(t *testing.T) {
	tests := []struct {
		name         string
		target, stop float64
		want         domain.OrderSide
	}{
		{"long exit", 110, 95, domain.OrderSideSell},
		{"short exit", 90, 105, domain.OrderSideBuy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{}
			a, _ := newLiveAdapter(t, client, 10)
			b, err := a.PlaceBracketExit(context.Background(), "AAPL", 5, tc.target, tc.stop, 100)
			require.NoError(t, err)
			require.Len(t, client.brackets, 1)
			assert.Equal(t, tc.want, client.brackets[0].Side)
			assert.Equal(t, tc.want, b.Side)
		})
	}
}

func TestAdapter_BracketRejectsBadLevels(t *testing.T) {
	a, _ := newLiveAdapter(t, &fakeClient{}, 10)
	_, err := a.PlaceBracketExit(context.Background(), "AAPL", 5, 100, 100, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = a.PlaceBracketExit(context.Background(), "AAPL", 0, 110, 95, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestAdapter_CancelBracketIdempotent(t *testing.T) {
	client := &fakeClient{}
	a, _ := newLiveAdapter(t, client, 10)
	b, err := a.PlaceBracketExit(context.Background(), "AAPL", 5, 110, 95, 100)
	require.NoError(t, err)

	require.NoError(t, a.CancelBracketExit(context.Background(), b.ID))
	require.NoError(t, a.CancelBracketExit(context.Background(), b.ID))
	assert.Equal(t, []string{"brk-1"}, client.cancelled)

	got, err := a.GetBracket(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BracketCancelled, got.Status)
}

func TestAdapter_CancelBracketAlreadyTriggered(t *testing.T) {
	client := &fakeClient{cancelErr: errors.New("order not cancelable"), status: domain.BracketTriggered}
	a, _ := newLiveAdapter(t, client, 10)
	b, err := a.PlaceBracketExit(context.Background(), "AAPL", 5, 110, 95, 100)
	require.NoError(t, err)

	err = a.CancelBracketExit(context.Background(), b.ID)
	require.ErrorIs(t, err, domain.ErrProtectionTriggered)
	got, err := a.GetBracket(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BracketTriggered, got.Status)

	// The cached status answers the second call.
	assert.ErrorIs(t, a.CancelBracketExit(context.Background(), b.ID), domain.ErrProtectionTriggered)
}

func TestAdapter_PaperCancelAfterLegFilled(t *testing.T) {
	a := New(Config{Paper: true, PaperCapital: 100000, BracketExpiry: time.Hour}, nil, nil, testLogger())
	_, err := a.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "TCS", Side: domain.OrderSideBuy, Quantity: 2, Kind: domain.OrderKindMarket, Price: 100})
	require.NoError(t, err)
	b, err := a.PlaceBracketExit(context.Background(), "TCS", 2, 110, 95, 100)
	require.NoError(t, err)

	a.Mark("TCS", 111)
	assert.ErrorIs(t, a.CancelBracketExit(context.Background(), b.ID), domain.ErrProtectionTriggered)
}

func TestAdapter_CancelBracketFailure(t *testing.T) {
	client := &fakeClient{cancelErr: domain.ErrBrokerTransient}
	a, _ := newLiveAdapter(t, client, 10)
	b, err := a.PlaceBracketExit(context.Background(), "AAPL", 5, 110, 95, 100)
	require.NoError(t, err)
	assert.ErrorIs(t, a.CancelBracketExit(context.Background(), b.ID), domain.ErrBrokerTransient)
}

func TestAdapter_PaperBypassesLimiter(t *testing.T) {
	l, _ := newFakeLimiter(LimitConfig{PerMinute: 1, DailyCap: 1}, nil)
	a := New(Config{Paper: true, PaperCapital: 100000, BracketExpiry: time.Hour}, nil, l, testLogger())
	require.True(t, a.Paper())

	for i := 0; i < 3; i++ {
		o, err := a.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "INFY", Side: domain.OrderSideBuy, Quantity: 1, Kind: domain.OrderKindMarket, Price: 100})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusComplete, o.Status)
	}
	assert.Equal(t, 0, l.Used())

	b, err := a.PlaceBracketExit(context.Background(), "INFY", 3, 110, 95, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideSell, b.Side)

	a.Mark("INFY", 94)
	got, err := a.GetBracket(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BracketTriggered, got.Status)

	// The stop already closed the position.
	assert.ErrorIs(t, a.CancelBracketExit(context.Background(), b.ID), domain.ErrProtectionTriggered)

	positions, err := a.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
	acct, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100000-18, acct.Equity, 1e-9)
}
