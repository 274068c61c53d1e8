package risk

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Emergency thresholds. They sit above the breaker limits and trigger a
// full unwind instead of a halt.
const (
	emergencyDailyLoss = -0.05
	emergencyDrawdown  = 0.12
	emergencyHeat      = 0.20
)

// EmergencyConditions returns the emergency conditions met by snap.
func EmergencyConditions(snap domain.RiskSnapshot) []string {
	var hits []string
	if snap.DailyPnLPercent < emergencyDailyLoss {
		hits = append(hits, "daily loss beyond 5%")
	}
	if snap.CurrentDrawdown > emergencyDrawdown {
		hits = append(hits, "drawdown beyond 12%")
	}
	if snap.PortfolioHeat > emergencyHeat {
		hits = append(hits, "portfolio heat beyond 20%")
	}
	return hits
}

// EmergencyHandler unwinds the book. It runs on its own goroutine.
type EmergencyHandler func(ctx context.Context, reason string)

// EmergencyStatus reports whether the emergency stop has fired.
type EmergencyStatus struct {
	Active    bool      `json:"active"`
	Reason    string    `json:"reason,omitempty"`
	Triggered time.Time `json:"triggered_at,omitempty"`
}

// Emergency fires its handler at most once per process.
type Emergency struct {
	mu      sync.Mutex
	status  EmergencyStatus
	handler EmergencyHandler
	wg      sync.WaitGroup
}

// SetHandler installs the unwind callback.
func (e *Emergency) SetHandler(h EmergencyHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Trigger marks the emergency active and starts the handler. Later calls
// are no-ops and return false.
func (e *Emergency) Trigger(reason string, at time.Time) bool {
	e.mu.Lock()
	if e.status.Active {
		e.mu.Unlock()
		return false
	}
	e.status = EmergencyStatus{Active: true, Reason: reason, Triggered: at}
	h := e.handler
	e.mu.Unlock()

	if h != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			h(context.Background(), reason)
		}()
	}
	return true
}

// Status returns the current emergency state.
func (e *Emergency) Status() EmergencyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Wait blocks until a running handler returns.
func (e *Emergency) Wait() {
	e.wg.Wait()
}

func joinReasons(hits []string) string {
	return "Emergency conditions met: " + strings.Join(hits, "; ")
}
