package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/executor"
)

// SignalExecutor runs one signal to completion.
type SignalExecutor interface {
	ExecuteSignal(ctx context.Context, sig domain.Signal) (domain.Trade, error)
}

// SignalQueue hands a signal to the coordinator's intake loop.
type SignalQueue interface {
	Enqueue(ctx context.Context, sig domain.Signal) error
}

// SignalHandler accepts trading signals over HTTP.
type SignalHandler struct {
	exec   SignalExecutor
	queue  SignalQueue
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler. queue may be nil, in which case
// every signal is executed synchronously.
func NewSignalHandler(exec SignalExecutor, queue SignalQueue, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{
		exec:   exec,
		queue:  queue,
		logger: logHandler(logger, "signals"),
	}
}

type acceptedResponse struct {
	SignalID string `json:"signal_id"`
	Status   string `json:"status"`
}

type rejectedResponse struct {
	Error    string                       `json:"error"`
	Reason   string                       `json:"reason"`
	Alerts   []domain.RiskAlert           `json:"alerts,omitempty"`
	Decision *domain.PositionSizeDecision `json:"decision,omitempty"`
}

type executedResponse struct {
	Trade   domain.Trade `json:"trade"`
	Warning string       `json:"warning,omitempty"`
}

// SubmitSignal validates a signal and queues it for execution (202), or
// executes it inline with sync=1 and returns the resulting trade (201).
// POST /api/signals?sync=1
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.Signal
	if err := decodeJSON(w, r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sig.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}

	if h.queue != nil && r.URL.Query().Get("sync") == "" {
		if err := h.queue.Enqueue(r.Context(), sig); err != nil {
			h.logger.WarnContext(r.Context(), "handler: enqueue signal failed",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusServiceUnavailable, "signal queue unavailable")
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{SignalID: sig.ID, Status: "queued"})
		return
	}

	trade, err := h.exec.ExecuteSignal(r.Context(), sig)
	var rej *executor.RejectionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, executedResponse{Trade: trade})
	case errors.Is(err, domain.ErrProtectionFailure):
		// The position is open; the caller must see it.
		writeJSON(w, http.StatusCreated, executedResponse{Trade: trade, Warning: err.Error()})
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, rejectedResponse{
			Error:    "signal rejected",
			Reason:   rej.Reason,
			Alerts:   rej.Alerts,
			Decision: rej.Decision,
		})
	case errors.Is(err, domain.ErrInvalidSignal):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateSignal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrEmergencyStop), errors.Is(err, domain.ErrTradingHalted):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, domain.ErrFillTimeout), errors.Is(err, domain.ErrBrokerRejected),
		errors.Is(err, domain.ErrBrokerTransient), errors.Is(err, domain.ErrDailyCapReached):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: execute signal failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to execute signal")
	}
}
