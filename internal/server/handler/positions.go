package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// PositionSource is the tracker's cached broker position view.
type PositionSource interface {
	GetAllPositions() map[string]domain.PositionStatus
	UpdatedAt() time.Time
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionSource
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionSource) *PositionHandler {
	return &PositionHandler{positions: positions}
}

type listPositionsResponse struct {
	Positions []domain.PositionStatus `json:"positions"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ListPositions returns every held position ordered by symbol.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	all := h.positions.GetAllPositions()
	positions := make([]domain.PositionStatus, 0, len(all))
	for _, p := range all {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	writeJSON(w, http.StatusOK, listPositionsResponse{
		Positions: positions,
		UpdatedAt: h.positions.UpdatedAt(),
	})
}
