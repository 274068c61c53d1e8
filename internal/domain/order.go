package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the closing side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderKind is the execution style of an order.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "MARKET"
	OrderKindLimit      OrderKind = "LIMIT"
	OrderKindStop       OrderKind = "STOP"        // stop-limit: triggers, then rests at Price
	OrderKindStopMarket OrderKind = "STOP_MARKET" // triggers, then fills at market
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusOpen           OrderStatus = "OPEN"
	OrderStatusTriggerPending OrderStatus = "TRIGGER_PENDING"
	OrderStatusComplete       OrderStatus = "COMPLETE"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRejected       OrderStatus = "REJECTED"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity int64
	Kind     OrderKind
	// Price is the limit price for LIMIT and STOP orders. For MARKET orders
	// it carries the reference price used by the paper book.
	Price   float64
	Trigger float64
	Tag     string
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID           string      `json:"id"`
	ParentID     string      `json:"parent_id,omitempty"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Kind         OrderKind   `json:"kind"`
	Quantity     int64       `json:"quantity"`
	FilledQty    int64       `json:"filled_qty"`
	Price        float64     `json:"price,omitempty"`
	Trigger      float64     `json:"trigger,omitempty"`
	AveragePrice float64     `json:"average_price,omitempty"`
	Status       OrderStatus `json:"status"`
	Tag          string      `json:"tag,omitempty"`
	Message      string      `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// PendingQty is the unfilled remainder.
func (o Order) PendingQty() int64 {
	return o.Quantity - o.FilledQty
}

// BracketStatus is the state of an OCO exit pair.
type BracketStatus string

const (
	BracketActive    BracketStatus = "active"
	BracketTriggered BracketStatus = "triggered"
	BracketCancelled BracketStatus = "cancelled"
	BracketExpired   BracketStatus = "expired"
)

// BracketLeg is one side of a bracket exit.
type BracketLeg struct {
	OrderID string    `json:"order_id,omitempty"`
	Kind    OrderKind `json:"kind"`
	Price   float64   `json:"price,omitempty"`
	Trigger float64   `json:"trigger,omitempty"`
}

// BracketExit is a profit-target limit and a stop-loss stop-market order
// linked one-cancels-other. Both legs are always cancelled together.
type BracketExit struct {
	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Side      OrderSide     `json:"side"`
	Quantity  int64         `json:"quantity"`
	Target    BracketLeg    `json:"target"`
	Stop      BracketLeg    `json:"stop"`
	Status    BracketStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`

	// Fallback is set when only an unlinked stop-loss protects the position.
	Fallback bool `json:"fallback"`
}
