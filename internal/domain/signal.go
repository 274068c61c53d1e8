package domain

import (
	"fmt"
	"math"
	"time"
)

// GapDirection is the side of the earnings gap a signal trades.
type GapDirection string

const (
	GapUp   GapDirection = "gap_up"
	GapDown GapDirection = "gap_down"
)

// Signal is a fully scored trade request produced by the scanner. It is
// consumed once per execution attempt and never mutated.
type Signal struct {
	ID           string       `json:"id,omitempty"`
	Symbol       string       `json:"symbol"`
	Direction    GapDirection `json:"direction"`
	EntryPrice   float64      `json:"entry_price"`
	StopLoss     float64      `json:"stop_loss"`
	ProfitTarget float64      `json:"profit_target"`
	Confidence   float64      `json:"confidence"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EntrySide is the order side that opens the position.
func (s Signal) EntrySide() OrderSide {
	if s.Direction == GapDown {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide is the order side that closes the position.
func (s Signal) ExitSide() OrderSide {
	return s.EntrySide().Opposite()
}

// Validate checks the structural sanity of the signal.
func (s Signal) Validate() error {
	switch {
	case s.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	case s.Direction != GapUp && s.Direction != GapDown:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSignal, s.Direction)
	case s.EntryPrice <= 0 || math.IsNaN(s.EntryPrice) || math.IsInf(s.EntryPrice, 0):
		return fmt.Errorf("%w: entry price %v", ErrInvalidSignal, s.EntryPrice)
	case s.StopLoss < 0 || s.ProfitTarget < 0:
		return fmt.Errorf("%w: negative exit level", ErrInvalidSignal)
	case s.Confidence < 0 || s.Confidence > 100:
		return fmt.Errorf("%w: confidence %v outside [0,100]", ErrInvalidSignal, s.Confidence)
	}
	return nil
}
