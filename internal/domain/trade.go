package domain

import "time"

// TradeStatus is the lifecycle state of one execution.
type TradeStatus string

const (
	TradePendingValidation TradeStatus = "PENDING_VALIDATION"
	TradeEntrySubmitted    TradeStatus = "ENTRY_SUBMITTED"
	TradeEntryFilled       TradeStatus = "ENTRY_FILLED"
	TradeExitProtected     TradeStatus = "EXIT_PROTECTED"
	TradeCompleted         TradeStatus = "COMPLETED"
	TradeEmergencyExited   TradeStatus = "EMERGENCY_EXITED"
)

// Terminal reports whether the trade can no longer change state.
func (s TradeStatus) Terminal() bool {
	return s == TradeCompleted || s == TradeEmergencyExited
}

// Open reports whether the trade still holds a position the coordinator
// is responsible for.
func (s TradeStatus) Open() bool {
	return s == TradeEntryFilled || s == TradeExitProtected
}

// Exit reasons recorded on terminal trades.
const (
	ExitReasonPositionClosed = "POSITION_CLOSED"
	ExitReasonTimeLimit      = "TIME_LIMIT"
	ExitReasonEmergencyStop  = "EMERGENCY_STOP"
)

// Trade is the aggregate root of one execution. It is created only after
// the entry fill is confirmed and exit protection has been attempted.
type Trade struct {
	ID          string               `json:"id"`
	Signal      Signal               `json:"signal"`
	EntryOrder  Order                `json:"entry_order"`
	Bracket     *BracketExit         `json:"bracket,omitempty"`
	Sizing      PositionSizeDecision `json:"sizing"`
	Quantity    int64                `json:"quantity"`
	FillPrice   float64              `json:"fill_price"`
	Status      TradeStatus          `json:"status"`
	EntryTime   time.Time            `json:"entry_time"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	ExitReason  string               `json:"exit_reason,omitempty"`
	ExitPrice   float64              `json:"exit_price,omitempty"`
	ExitOrderID string               `json:"exit_order_id,omitempty"`

	// Unprotected marks a filled trade whose bracket and fallback stop both
	// failed. It needs operator attention.
	Unprotected bool `json:"unprotected"`
	// ExitFailure records a failed emergency exit order. The trade stays
	// EMERGENCY_EXITED and must be flattened manually.
	ExitFailure string `json:"exit_failure,omitempty"`
}

// OpenRisk is the amount lost if the protective stop is hit.
func (t Trade) OpenRisk() float64 {
	stop := t.Signal.StopLoss
	if t.Bracket != nil && t.Bracket.Stop.Trigger > 0 {
		stop = t.Bracket.Stop.Trigger
	}
	d := t.FillPrice - stop
	if d < 0 {
		d = -d
	}
	return d * float64(t.Quantity)
}

// ReturnPct is the realized fractional return of a closed trade.
func (t Trade) ReturnPct() float64 {
	if t.FillPrice <= 0 || t.ExitPrice <= 0 {
		return 0
	}
	r := (t.ExitPrice - t.FillPrice) / t.FillPrice
	if t.Signal.Direction == GapDown {
		r = -r
	}
	return r
}

// PnL is the realized profit of a closed trade.
func (t Trade) PnL() float64 {
	return t.ReturnPct() * t.FillPrice * float64(t.Quantity)
}

// ExecutionMetrics captures entry quality for one trade.
type ExecutionMetrics struct {
	Symbol          string        `json:"symbol"`
	SignalTime      time.Time     `json:"signal_time"`
	ExecutionTime   time.Time     `json:"execution_time"`
	ExpectedPrice   float64       `json:"expected_price"`
	EntryPrice      float64       `json:"entry_price"`
	Slippage        float64       `json:"slippage"`
	SlippagePercent float64       `json:"slippage_percent"`
	Delay           time.Duration `json:"delay"`
	FillQuality     string        `json:"fill_quality"`
}
