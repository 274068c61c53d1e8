package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

type fakeAlpaca struct {
	placed   []alpaca.PlaceOrderRequest
	placeRes *alpaca.Order
	placeErr error
	orders   map[string]*alpaca.Order
}

func (f *fakeAlpaca) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placeRes, nil
}

func (f *fakeAlpaca) GetOrder(id string) (*alpaca.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, &alpaca.APIError{StatusCode: 404, Message: "order not found"}
	}
	return o, nil
}

func (f *fakeAlpaca) CancelOrder(string) error { return nil }

func (f *fakeAlpaca) GetPositions() ([]alpaca.Position, error) {
	cur := decimal.NewFromFloat(190.5)
	pl := decimal.NewFromFloat(-47.5)
	return []alpaca.Position{{
		Symbol:        "AAPL",
		Qty:           decimal.NewFromInt(-5),
		AvgEntryPrice: decimal.NewFromInt(181),
		CurrentPrice:  &cur,
		UnrealizedPL:  &pl,
	}}, nil
}

func (f *fakeAlpaca) GetAccount() (*alpaca.Account, error) {
	return &alpaca.Account{
		Equity:      decimal.NewFromInt(101000),
		Cash:        decimal.NewFromInt(50000),
		BuyingPower: decimal.NewFromInt(200000),
		LastEquity:  decimal.NewFromInt(100000),
	}, nil
}

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func TestAlpacaClient_SubmitOrderMapping(t *testing.T) {
	tests := []struct {
		name     string
		req      domain.OrderRequest
		wantType alpaca.OrderType
		wantTIF  alpaca.TimeInForce
		limit    *decimal.Decimal
		stop     *decimal.Decimal
	}{
		{"market", domain.OrderRequest{Kind: domain.OrderKindMarket}, alpaca.Market, alpaca.Day, nil, nil},
		{"limit", domain.OrderRequest{Kind: domain.OrderKindLimit, Price: 101.234}, alpaca.Limit, alpaca.Day, dec(101.23), nil},
		{"stop limit", domain.OrderRequest{Kind: domain.OrderKindStop, Price: 94, Trigger: 95}, alpaca.StopLimit, alpaca.Day, dec(94), dec(95)},
		{"stop market", domain.OrderRequest{Kind: domain.OrderKindStopMarket, Trigger: 95}, alpaca.Stop, alpaca.GTC, nil, dec(95)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAlpaca{placeRes: &alpaca.Order{ID: "o1", Symbol: "AAPL", Status: "new", Type: tc.wantType}}
			c := &AlpacaClient{api: api}
			tc.req.Symbol, tc.req.Side, tc.req.Quantity = "AAPL", domain.OrderSideSell, 7

			o, err := c.SubmitOrder(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusOpen, o.Status)

			require.Len(t, api.placed, 1)
			got := api.placed[0]
			assert.Equal(t, tc.wantType, got.Type)
			assert.Equal(t, tc.wantTIF, got.TimeInForce)
			assert.Equal(t, alpaca.Sell, got.Side)
			assert.True(t, got.Qty.Equal(decimal.NewFromInt(7)))
			if tc.limit == nil {
				assert.Nil(t, got.LimitPrice)
			} else {
				assert.True(t, got.LimitPrice.Equal(*tc.limit), got.LimitPrice.String())
			}
			if tc.stop == nil {
				assert.Nil(t, got.StopPrice)
			} else {
				assert.True(t, got.StopPrice.Equal(*tc.stop), got.StopPrice.String())
			}
		})
	}
}

func TestAlpacaClient_SubmitBracket(t *testing.T) {
	api := &fakeAlpaca{placeRes: &alpaca.Order{
		ID:     "parent",
		Type:   alpaca.Limit,
		Status: "new",
		Legs:   []alpaca.Order{{ID: "stop-leg", Type: alpaca.Stop, Status: "held"}},
	}}
	c := &AlpacaClient{api: api}

	b, err := c.SubmitBracket(context.Background(), BracketRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Quantity: 5, Target: 200, Stop: 180})
	require.NoError(t, err)
	assert.Equal(t, "parent", b.ID)
	assert.Equal(t, "parent", b.Target.OrderID)
	assert.Equal(t, "stop-leg", b.Stop.OrderID)
	assert.Equal(t, domain.BracketActive, b.Status)

	req := api.placed[0]
	assert.Equal(t, alpaca.OCO, req.OrderClass)
	assert.Equal(t, alpaca.GTC, req.TimeInForce)
	require.NotNil(t, req.TakeProfit)
	require.NotNil(t, req.StopLoss)
	assert.True(t, req.TakeProfit.LimitPrice.Equal(decimal.NewFromInt(200)))
	assert.True(t, req.StopLoss.StopPrice.Equal(decimal.NewFromInt(180)))
}

func TestAlpacaClient_BracketStatus(t *testing.T) {
	tests := []struct {
		name   string
		parent string
		leg    string
		want   domain.BracketStatus
	}{
		{"resting", "new", "held", domain.BracketActive},
		{"target hit", "filled", "canceled", domain.BracketTriggered},
		{"stop hit", "canceled", "filled", domain.BracketTriggered},
		{"cancelled", "canceled", "canceled", domain.BracketCancelled},
		{"expired", "expired", "expired", domain.BracketExpired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAlpaca{orders: map[string]*alpaca.Order{
				"p": {ID: "p", Status: tc.parent, Legs: []alpaca.Order{{ID: "l", Status: tc.leg}}},
			}}
			c := &AlpacaClient{api: api}
			st, err := c.BracketStatus(context.Background(), "p")
			require.NoError(t, err)
			assert.Equal(t, tc.want, st)
		})
	}
}

func TestAlpacaClient_PositionsAndAccount(t *testing.T) {
	c := &AlpacaClient{api: &fakeAlpaca{}}
	ps, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, int64(-5), ps[0].Quantity)
	assert.Equal(t, 181.0, ps[0].AveragePrice)
	assert.Equal(t, 190.5, ps[0].LastPrice)
	assert.Equal(t, -47.5, ps[0].UnrealizedPnL)

	acct, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 101000.0, acct.Equity)
	assert.Equal(t, 100000.0, acct.LastEquity)
}

func TestAlpacaClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", &alpaca.APIError{StatusCode: 422, Message: "insufficient buying power"}, domain.ErrBrokerRejected},
		{"forbidden", &alpaca.APIError{StatusCode: 403, Message: "forbidden"}, domain.ErrBrokerRejected},
		{"rate limited", &alpaca.APIError{StatusCode: 429, Message: "too many requests"}, domain.ErrBrokerTransient},
		{"rate limited sentinel", &alpaca.APIError{StatusCode: 429, Message: "too many requests"}, domain.ErrRateLimited},
		{"server", &alpaca.APIError{StatusCode: 503, Message: "unavailable"}, domain.ErrBrokerTransient},
		{"network", errors.New("dial tcp: connection refused"), domain.ErrBrokerTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &AlpacaClient{api: &fakeAlpaca{placeErr: tc.err}}
			_, err := c.SubmitOrder(context.Background(), domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1, Kind: domain.OrderKindMarket})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAlpacaClient_CancelledContext(t *testing.T) {
	api := &fakeAlpaca{}
	c := &AlpacaClient{api: api}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1, Kind: domain.OrderKindMarket})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.placed)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]domain.OrderStatus{
		"filled":           domain.OrderStatusComplete,
		"partially_filled": domain.OrderStatusOpen,
		"new":              domain.OrderStatusOpen,
		"canceled":         domain.OrderStatusCancelled,
		"expired":          domain.OrderStatusCancelled,
		"rejected":         domain.OrderStatusRejected,
		"held":             domain.OrderStatusTriggerPending,
		"pending_new":      domain.OrderStatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapStatus(in), in)
	}
}
