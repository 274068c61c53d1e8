package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrLockHeld      = errors.New("lock already held")

	// Broker failures. Transient errors may be retried by poll loops only;
	// rejections are terminal for the order that produced them.
	ErrBrokerTransient     = errors.New("broker transient failure")
	ErrBrokerRejected      = errors.New("broker rejected order")
	ErrRateLimited         = errors.New("broker rate limited")
	ErrDailyCapReached     = errors.New("daily order submission cap reached")
	ErrFillTimeout         = errors.New("entry order not filled before timeout")
	ErrProtectionTriggered = errors.New("exit protection already triggered")

	ErrSignalRejected    = errors.New("signal rejected")
	ErrDuplicateSignal   = errors.New("duplicate signal")
	ErrProtectionFailure = errors.New("exit protection could not be placed")
	ErrTradingHalted     = errors.New("trading halted by circuit breaker")
	ErrEmergencyStop     = errors.New("emergency stop active")

	ErrNoData      = errors.New("no market data")
	ErrDataQuality = errors.New("market data failed quality checks")
)
