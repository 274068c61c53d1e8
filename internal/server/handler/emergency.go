package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/gaptrader/internal/executor"
)

// EmergencyControl is the coordinator's kill switch.
type EmergencyControl interface {
	EmergencyStopAll(ctx context.Context, reason string) error
	Resume(ctx context.Context, overrideReason string)
	Emergency() executor.EmergencyState
}

// EmergencyHandler serves the emergency stop and resume endpoints.
type EmergencyHandler struct {
	ctrl   EmergencyControl
	logger *slog.Logger
}

// NewEmergencyHandler creates an EmergencyHandler.
func NewEmergencyHandler(ctrl EmergencyControl, logger *slog.Logger) *EmergencyHandler {
	return &EmergencyHandler{ctrl: ctrl, logger: logHandler(logger, "emergency")}
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

type resumeRequest struct {
	OverrideReason string `json:"override_reason"`
}

type emergencyResponse struct {
	Emergency executor.EmergencyState `json:"emergency"`
	Error     string                  `json:"error,omitempty"`
}

// EmergencyStop flattens every open trade and halts trading. It returns
// once all exits were attempted; failed exits are reported with 500.
// POST /api/emergency-stop
func (h *EmergencyHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	// The exits must finish even if the operator's connection drops.
	ctx := context.WithoutCancel(r.Context())
	h.logger.WarnContext(ctx, "handler: emergency stop requested",
		slog.String("reason", req.Reason),
		slog.String("remote_addr", r.RemoteAddr),
	)
	if err := h.ctrl.EmergencyStopAll(ctx, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, emergencyResponse{
			Emergency: h.ctrl.Emergency(),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, emergencyResponse{Emergency: h.ctrl.Emergency()})
}

// Resume clears the emergency flag and lifts the trading halt.
// POST /api/resume
func (h *EmergencyHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.OverrideReason = strings.TrimSpace(req.OverrideReason)
	if req.OverrideReason == "" {
		writeError(w, http.StatusBadRequest, "override_reason is required")
		return
	}

	h.logger.WarnContext(r.Context(), "handler: resume requested",
		slog.String("override_reason", req.OverrideReason),
		slog.String("remote_addr", r.RemoteAddr),
	)
	h.ctrl.Resume(r.Context(), req.OverrideReason)
	writeJSON(w, http.StatusOK, emergencyResponse{Emergency: h.ctrl.Emergency()})
}
