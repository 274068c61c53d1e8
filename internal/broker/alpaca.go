package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// alpacaTrading is the subset of *alpaca.Client the live client uses.
type alpacaTrading interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetPositions() ([]alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

// AlpacaClient talks to the Alpaca trading API.
type AlpacaClient struct {
	api alpacaTrading
}

var _ Client = (*AlpacaClient)(nil)

// AlpacaOpts configures the trading client.
type AlpacaOpts struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

// NewAlpacaClient creates a live client.
func NewAlpacaClient(opts AlpacaOpts) *AlpacaClient {
	return &AlpacaClient{
		api: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			BaseURL:    opts.BaseURL,
			HTTPClient: &http.Client{Timeout: opts.Timeout},
		}),
	}
}

// SubmitOrder implements Client.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	qty := decimal.NewFromInt(req.Quantity)
	par := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.Tag,
	}
	switch req.Kind {
	case domain.OrderKindMarket:
		par.Type = alpaca.Market
	case domain.OrderKindLimit:
		par.Type = alpaca.Limit
		par.LimitPrice = decimalPtr(req.Price)
	case domain.OrderKindStop:
		par.Type = alpaca.StopLimit
		par.LimitPrice = decimalPtr(req.Price)
		par.StopPrice = decimalPtr(req.Trigger)
	case domain.OrderKindStopMarket:
		par.Type = alpaca.Stop
		par.StopPrice = decimalPtr(req.Trigger)
		par.TimeInForce = alpaca.GTC
	default:
		return domain.Order{}, fmt.Errorf("alpaca: kind %q: %w", req.Kind, domain.ErrInvalidOrder)
	}

	o, err := c.api.PlaceOrder(par)
	if err != nil {
		return domain.Order{}, classify("place order", err)
	}
	return fromAlpacaOrder(*o), nil
}

// GetOrder implements Client.
func (c *AlpacaClient) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	o, err := c.api.GetOrder(id)
	if err != nil {
		return domain.Order{}, classify("get order", err)
	}
	return fromAlpacaOrder(*o), nil
}

// CancelOrder implements Client.
func (c *AlpacaClient) CancelOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.api.CancelOrder(id); err != nil {
		return classify("cancel order", err)
	}
	return nil
}

// SubmitBracket places an OCO exit: a take-profit limit with a linked stop.
// The parent order id identifies the pair; cancelling it cancels both legs.
func (c *AlpacaClient) SubmitBracket(ctx context.Context, req BracketRequest) (domain.BracketExit, error) {
	if err := ctx.Err(); err != nil {
		return domain.BracketExit{}, err
	}
	qty := decimal.NewFromInt(req.Quantity)
	o, err := c.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        alpacaSide(req.Side),
		Type:        alpaca.Limit,
		TimeInForce: alpaca.GTC,
		OrderClass:  alpaca.OCO,
		TakeProfit:  &alpaca.TakeProfit{LimitPrice: decimalPtr(req.Target)},
		StopLoss:    &alpaca.StopLoss{StopPrice: decimalPtr(req.Stop)},
	})
	if err != nil {
		return domain.BracketExit{}, classify("place bracket", err)
	}

	b := domain.BracketExit{
		ID:       o.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Target:   domain.BracketLeg{OrderID: o.ID, Kind: domain.OrderKindLimit, Price: req.Target},
		Stop:     domain.BracketLeg{Kind: domain.OrderKindStopMarket, Trigger: req.Stop},
		Status:   domain.BracketActive,
	}
	for _, leg := range o.Legs {
		if leg.Type == alpaca.Stop || leg.Type == alpaca.StopLimit {
			b.Stop.OrderID = leg.ID
		}
	}
	return b, nil
}

// BracketStatus derives the pair's state from the parent order and legs.
func (c *AlpacaClient) BracketStatus(ctx context.Context, id string) (domain.BracketStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o, err := c.api.GetOrder(id)
	if err != nil {
		return "", classify("get bracket", err)
	}
	orders := append([]alpaca.Order{*o}, o.Legs...)
	status := domain.BracketCancelled
	for _, leg := range orders {
		switch mapStatus(leg.Status) {
		case domain.OrderStatusComplete:
			return domain.BracketTriggered, nil
		case domain.OrderStatusOpen, domain.OrderStatusPending, domain.OrderStatusTriggerPending:
			status = domain.BracketActive
		}
		if leg.Status == "expired" && status != domain.BracketActive {
			status = domain.BracketExpired
		}
	}
	return status, nil
}

// GetPositions implements Client.
func (c *AlpacaClient) GetPositions(ctx context.Context) ([]domain.RawPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ps, err := c.api.GetPositions()
	if err != nil {
		return nil, classify("get positions", err)
	}
	out := make([]domain.RawPosition, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.RawPosition{
			Symbol:        p.Symbol,
			Quantity:      p.Qty.IntPart(),
			AveragePrice:  p.AvgEntryPrice.InexactFloat64(),
			LastPrice:     floatOf(p.CurrentPrice),
			UnrealizedPnL: floatOf(p.UnrealizedPL),
			DayPnL:        floatOf(p.UnrealizedIntradayPL),
		})
	}
	return out, nil
}

// GetAccount implements Client.
func (c *AlpacaClient) GetAccount(ctx context.Context) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	a, err := c.api.GetAccount()
	if err != nil {
		return domain.Account{}, classify("get account", err)
	}
	return domain.Account{
		Equity:      a.Equity.InexactFloat64(),
		Cash:        a.Cash.InexactFloat64(),
		BuyingPower: a.BuyingPower.InexactFloat64(),
		LastEquity:  a.LastEquity.InexactFloat64(),
	}, nil
}

func fromAlpacaOrder(o alpaca.Order) domain.Order {
	out := domain.Order{
		ID:           o.ID,
		Symbol:       o.Symbol,
		Side:         domain.OrderSide(o.Side),
		Kind:         fromAlpacaType(o.Type),
		Quantity:     intOf(o.Qty),
		FilledQty:    o.FilledQty.IntPart(),
		Price:        floatOf(o.LimitPrice),
		Trigger:      floatOf(o.StopPrice),
		AveragePrice: floatOf(o.FilledAvgPrice),
		Status:       mapStatus(o.Status),
		Tag:          o.ClientOrderID,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	return out
}

func fromAlpacaType(t alpaca.OrderType) domain.OrderKind {
	switch t {
	case alpaca.Limit:
		return domain.OrderKindLimit
	case alpaca.Stop:
		return domain.OrderKindStopMarket
	case alpaca.StopLimit:
		return domain.OrderKindStop
	}
	return domain.OrderKindMarket
}

// mapStatus folds Alpaca's order states onto the domain lifecycle.
func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusComplete
	case "canceled", "expired", "done_for_day", "replaced":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	case "held":
		return domain.OrderStatusTriggerPending
	case "pending_new", "accepted_for_bidding":
		return domain.OrderStatusPending
	}
	return domain.OrderStatusOpen
}

func alpacaSide(s domain.OrderSide) alpaca.Side {
	if s == domain.OrderSideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v).Round(2)
	return &d
}

func floatOf(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func intOf(d *decimal.Decimal) int64 {
	if d == nil {
		return 0
	}
	return d.IntPart()
}

// classify wraps err with ErrBrokerTransient for network failures, rate
// limiting and server errors, and ErrBrokerRejected for other API errors.
func classify(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("alpaca: %s: %w: %w: %v", op, domain.ErrBrokerTransient, domain.ErrRateLimited, err)
		}
		if apiErr.StatusCode >= 500 {
			return fmt.Errorf("alpaca: %s: %w: %v", op, domain.ErrBrokerTransient, err)
		}
		return fmt.Errorf("alpaca: %s: %w: %v", op, domain.ErrBrokerRejected, err)
	}
	// Anything else failed before the API answered.
	return fmt.Errorf("alpaca: %s: %w: %v", op, domain.ErrBrokerTransient, err)
}
