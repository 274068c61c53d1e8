package domain

import (
	"context"
	"time"
)

// EventKind names a notification category. Notifier filters match on it.
type EventKind string

const (
	EventRiskAlert         EventKind = "risk_alert"
	EventSignalRejected    EventKind = "signal_rejected"
	EventExecutionAborted  EventKind = "execution_aborted"
	EventTradeEntry        EventKind = "trade_entry"
	EventTradeProtected    EventKind = "trade_protected"
	EventProtectionFailure EventKind = "protection_failure"
	EventTradeExit         EventKind = "trade_exit"
	EventExitFailure       EventKind = "exit_failure"
	EventCircuitBreaker    EventKind = "circuit_breaker"
	EventEmergencyStop     EventKind = "emergency_stop"
)

// Event is one observable occurrence in the execution core.
type Event struct {
	Kind     EventKind  `json:"kind"`
	Severity Severity   `json:"severity"`
	Symbol   string     `json:"symbol,omitempty"`
	TradeID  string     `json:"trade_id,omitempty"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Alert    *RiskAlert `json:"alert,omitempty"`
	Time     time.Time  `json:"time"`
}

// Notifier delivers events to operators.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// TradeSink receives trade lifecycle records.
type TradeSink interface {
	RecordTrade(ctx context.Context, t Trade) error
	UpdateTradeStatus(ctx context.Context, id string, status TradeStatus, reason string) error
}
