package broker

import "github.com/alanyoungcy/gaptrader/internal/domain"

// Crosses reports whether a resting order at level executes when the market
// trades at market. LIMIT orders fill in the favourable direction; STOP and
// STOP_MARKET orders trigger when price moves against the position. MARKET
// orders always cross.
func Crosses(kind domain.OrderKind, side domain.OrderSide, level, market float64) bool {
	if market <= 0 {
		return false
	}
	switch kind {
	case domain.OrderKindMarket:
		return true
	case domain.OrderKindLimit:
		if side == domain.OrderSideBuy {
			return market <= level
		}
		return market >= level
	case domain.OrderKindStop, domain.OrderKindStopMarket:
		if side == domain.OrderSideSell {
			return market <= level
		}
		return market >= level
	}
	return false
}

// validateRequest checks an order request before it reaches a venue.
func validateRequest(req domain.OrderRequest) error {
	if req.Symbol == "" || req.Quantity <= 0 {
		return domain.ErrInvalidOrder
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return domain.ErrInvalidOrder
	}
	switch req.Kind {
	case domain.OrderKindMarket:
	case domain.OrderKindLimit:
		if req.Price <= 0 {
			return domain.ErrInvalidOrder
		}
	case domain.OrderKindStop:
		if req.Price <= 0 || req.Trigger <= 0 {
			return domain.ErrInvalidOrder
		}
	case domain.OrderKindStopMarket:
		if req.Trigger <= 0 {
			return domain.ErrInvalidOrder
		}
	default:
		return domain.ErrInvalidOrder
	}
	return nil
}
