package handler

import (
	"net/http"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/risk"
)

// RiskSource exposes the risk gate dashboard.
type RiskSource interface {
	Dashboard() risk.Dashboard
}

// RiskHandler serves the risk dashboard.
type RiskHandler struct {
	gate RiskSource
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(gate RiskSource) *RiskHandler {
	return &RiskHandler{gate: gate}
}

// GetRisk returns the latest snapshot, recent alerts, breaker and
// emergency state.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	d := h.gate.Dashboard()
	if d.RecentAlerts == nil {
		d.RecentAlerts = []domain.RiskAlert{}
	}
	writeJSON(w, http.StatusOK, d)
}
