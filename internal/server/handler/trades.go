package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// TradeSource is the coordinator's in-memory trade registry.
type TradeSource interface {
	Trades() []domain.Trade
	Trade(id string) (domain.Trade, bool)
}

// TradeHistory reads persisted trades and their orders.
type TradeHistory interface {
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
	Orders(ctx context.Context, tradeID string) ([]domain.Order, error)
}

// TradeHandler serves trade endpoints.
type TradeHandler struct {
	trades  TradeSource
	history TradeHistory
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. history may be nil when no
// database is configured.
func NewTradeHandler(trades TradeSource, history TradeHistory, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades:  trades,
		history: history,
		logger:  logHandler(logger, "trades"),
	}
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns trades known to this process, or closed trades from
// the database with source=history.
// GET /api/trades?status=open|closed&source=history&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("source") == "history" {
		if h.history == nil {
			writeError(w, http.StatusServiceUnavailable, "trade history not configured")
			return
		}
		trades, err := h.history.History(r.Context(), parseListOpts(r))
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: trade history failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list trade history")
			return
		}
		if trades == nil {
			trades = []domain.Trade{}
		}
		writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
		return
	}

	filter := q.Get("status")
	switch filter {
	case "", "open", "closed":
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	trades := make([]domain.Trade, 0)
	for _, t := range h.trades.Trades() {
		switch {
		case filter == "open" && t.Status.Terminal():
			continue
		case filter == "closed" && !t.Status.Terminal():
			continue
		}
		trades = append(trades, t)
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

type tradeResponse struct {
	Trade  domain.Trade   `json:"trade"`
	Orders []domain.Order `json:"orders,omitempty"`
}

// GetTrade returns one trade with its stored orders when available.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	t, ok := h.trades.Trade(id)
	if !ok {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}

	resp := tradeResponse{Trade: t}
	if h.history != nil {
		orders, err := h.history.Orders(r.Context(), id)
		if err != nil {
			// The trade itself is authoritative; orders are supplementary.
			h.logger.WarnContext(r.Context(), "handler: list trade orders failed",
				slog.String("trade_id", id),
				slog.String("error", err.Error()),
			)
		}
		resp.Orders = orders
	}
	writeJSON(w, http.StatusOK, resp)
}
