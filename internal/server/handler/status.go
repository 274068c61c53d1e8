package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/executor"
)

// StatusSource reports the coordinator's view of the book.
type StatusSource interface {
	Status() executor.Status
}

// TrackerStats reports position tracker health.
type TrackerStats interface {
	UpdatedAt() time.Time
	Stats() (polls, failures int64)
}

// StatusHandler serves the coordinator status for operators.
type StatusHandler struct {
	Mode    string
	Paper   bool
	exec    StatusSource
	tracker TrackerStats
	started time.Time
}

// NewStatusHandler creates a StatusHandler. tracker may be nil.
func NewStatusHandler(mode string, paper bool, exec StatusSource, tracker TrackerStats) *StatusHandler {
	return &StatusHandler{
		Mode:    mode,
		Paper:   paper,
		exec:    exec,
		tracker: tracker,
		started: time.Now(),
	}
}

type trackerStatus struct {
	UpdatedAt time.Time `json:"updated_at"`
	Polls     int64     `json:"polls"`
	Failures  int64     `json:"failures"`
}

type statusResponse struct {
	Mode     string          `json:"mode"`
	Paper    bool            `json:"paper_trading"`
	Uptime   string          `json:"uptime"`
	Executor executor.Status `json:"executor"`
	Tracker  *trackerStatus  `json:"tracker,omitempty"`
}

// GetStatus responds with active trades, daily counters, execution quality
// and tracker freshness.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:     h.Mode,
		Paper:    h.Paper,
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
		Executor: h.exec.Status(),
	}
	if resp.Executor.ActiveTrades == nil {
		resp.Executor.ActiveTrades = []domain.Trade{}
	}
	if h.tracker != nil {
		polls, failures := h.tracker.Stats()
		resp.Tracker = &trackerStatus{UpdatedAt: h.tracker.UpdatedAt(), Polls: polls, Failures: failures}
	}
	writeJSON(w, http.StatusOK, resp)
}
