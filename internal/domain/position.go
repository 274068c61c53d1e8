package domain

import "time"

// RawPosition is a position as reported by the broker.
type RawPosition struct {
	Symbol        string
	Quantity      int64 // signed: negative is short
	AveragePrice  float64
	LastPrice     float64
	UnrealizedPnL float64
	DayPnL        float64
}

// PositionStatus is the live view of one held symbol, rebuilt on every
// tracker poll.
type PositionStatus struct {
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	PnL           float64   `json:"pnl"`
	PnLPercent    float64   `json:"pnl_percent"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	DayPnL        float64   `json:"day_pnl"`
	Value         float64   `json:"value"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Account is the broker's capital summary.
type Account struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	// LastEquity is the equity at the previous session close.
	LastEquity float64
}
