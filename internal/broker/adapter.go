// Package broker is the rate-limited boundary to the brokerage. A paper
// book stands in for the venue when paper trading is on.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Client is a live brokerage connection.
type Client interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	CancelOrder(ctx context.Context, id string) error
	SubmitBracket(ctx context.Context, req BracketRequest) (domain.BracketExit, error)
	BracketStatus(ctx context.Context, id string) (domain.BracketStatus, error)
	GetPositions(ctx context.Context) ([]domain.RawPosition, error)
	GetAccount(ctx context.Context) (domain.Account, error)
}

// BracketRequest describes an OCO exit pair.
type BracketRequest struct {
	Symbol   string
	Side     domain.OrderSide
	Quantity int64
	Target   float64
	Stop     float64
}

// Config configures the Adapter.
type Config struct {
	Paper          bool
	PaperCapital   float64
	RequestTimeout time.Duration
	BracketExpiry  time.Duration
}

// Adapter routes every call either to the paper book or, rate limited, to
// the live client. Callers see the same contract in both modes.
type Adapter struct {
	cfg     Config
	client  Client
	paper   *PaperBook
	limiter *Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	brackets map[string]domain.BracketExit
}

// New creates an Adapter. client and limiter are unused in paper mode.
func New(cfg Config, client Client, limiter *Limiter, logger *slog.Logger) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		client:   client,
		limiter:  limiter,
		logger:   logger.With(slog.String("component", "broker")),
		now:      time.Now,
		brackets: make(map[string]domain.BracketExit),
	}
	if cfg.Paper {
		a.paper = NewPaperBook(cfg.PaperCapital)
	}
	return a
}

// Paper reports whether the adapter simulates fills.
func (a *Adapter) Paper() bool { return a.paper != nil }

func (a *Adapter) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cfg.RequestTimeout)
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

// PlaceOrder submits an order.
func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if a.paper != nil {
		return a.paper.Submit(req)
	}
	if err := validateRequest(req); err != nil {
		return domain.Order{}, fmt.Errorf("broker: place order %s: %w", req.Symbol, err)
	}
	if err := a.wait(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("broker: place order %s: %w", req.Symbol, err)
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	o, err := a.client.SubmitOrder(cctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	a.logger.InfoContext(ctx, "broker: order placed",
		slog.String("order_id", o.ID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("kind", string(req.Kind)),
		slog.Int64("quantity", req.Quantity),
	)
	return o, nil
}

// GetOrderStatus returns the current state of an order. Status queries are
// not rate limited.
func (a *Adapter) GetOrderStatus(ctx context.Context, id string) (domain.Order, error) {
	if a.paper != nil {
		return a.paper.Get(id)
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	return a.client.GetOrder(cctx, id)
}

// CancelOrder cancels an open order.
func (a *Adapter) CancelOrder(ctx context.Context, id string) error {
	if a.paper != nil {
		return a.paper.Cancel(id)
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	return a.client.CancelOrder(cctx, id)
}

// PlaceBracketExit places the OCO exit for a position. The exit side is
// implied by the levels: a target above the stop closes a long.
func (a *Adapter) PlaceBracketExit(ctx context.Context, symbol string, qty int64, target, stop, current float64) (domain.BracketExit, error) {
	side := domain.OrderSideSell
	if target < stop {
		side = domain.OrderSideBuy
	}
	if target <= 0 || stop <= 0 || target == stop || qty <= 0 {
		return domain.BracketExit{}, fmt.Errorf("broker: bracket %s: %w", symbol, domain.ErrInvalidOrder)
	}

	var (
		b   domain.BracketExit
		err error
	)
	if a.paper != nil {
		b, err = a.paper.PlaceBracket(symbol, side, qty, target, stop, current, a.cfg.BracketExpiry)
	} else {
		if err := a.wait(ctx); err != nil {
			return domain.BracketExit{}, fmt.Errorf("broker: bracket %s: %w", symbol, err)
		}
		cctx, cancel := a.callCtx(ctx)
		defer cancel()
		b, err = a.client.SubmitBracket(cctx, BracketRequest{Symbol: symbol, Side: side, Quantity: qty, Target: target, Stop: stop})
		if err == nil {
			b.CreatedAt = a.now()
			if a.cfg.BracketExpiry > 0 {
				b.ExpiresAt = b.CreatedAt.Add(a.cfg.BracketExpiry)
			}
		}
	}
	if err != nil {
		return domain.BracketExit{}, err
	}

	a.mu.Lock()
	a.brackets[b.ID] = b
	a.mu.Unlock()
	a.logger.InfoContext(ctx, "broker: bracket placed",
		slog.String("bracket_id", b.ID),
		slog.String("symbol", symbol),
		slog.Float64("target", target),
		slog.Float64("stop", stop),
	)
	return b, nil
}

// CancelBracketExit cancels both legs of a bracket. Cancelling a bracket
// that was already cancelled is a no-op; one whose leg has filled returns an
// error matching domain.ErrProtectionTriggered, since the position it
// protected is gone.
func (a *Adapter) CancelBracketExit(ctx context.Context, id string) error {
	a.mu.Lock()
	b, known := a.brackets[id]
	a.mu.Unlock()
	if known && b.Status != domain.BracketActive {
		return closedBracket(id, b.Status)
	}

	var err error
	if a.paper != nil {
		if err = a.paper.CancelBracket(id); err == nil {
			if pb, perr := a.paper.Bracket(id); perr == nil {
				a.setBracketStatus(id, pb.Status)
				return closedBracket(id, pb.Status)
			}
		}
	} else {
		cctx, cancel := a.callCtx(ctx)
		defer cancel()
		err = a.client.CancelOrder(cctx, id)
		if err != nil {
			if st, serr := a.client.BracketStatus(cctx, id); serr == nil && st != domain.BracketActive {
				a.setBracketStatus(id, st)
				return closedBracket(id, st)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("broker: cancel bracket %s: %w", id, err)
	}
	a.setBracketStatus(id, domain.BracketCancelled)
	return nil
}

func closedBracket(id string, st domain.BracketStatus) error {
	if st == domain.BracketTriggered {
		return fmt.Errorf("broker: cancel bracket %s: %w", id, domain.ErrProtectionTriggered)
	}
	return nil
}

func (a *Adapter) setBracketStatus(id string, st domain.BracketStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.brackets[id]; ok {
		b.Status = st
		a.brackets[id] = b
	}
}

// GetBracket returns the latest view of a bracket.
func (a *Adapter) GetBracket(ctx context.Context, id string) (domain.BracketExit, error) {
	if a.paper != nil {
		return a.paper.Bracket(id)
	}
	a.mu.Lock()
	b, ok := a.brackets[id]
	a.mu.Unlock()
	if !ok {
		return domain.BracketExit{}, fmt.Errorf("broker: bracket %s: %w", id, domain.ErrNotFound)
	}
	if b.Status != domain.BracketActive {
		return b, nil
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	st, err := a.client.BracketStatus(cctx, id)
	if err != nil {
		return b, err
	}
	a.setBracketStatus(id, st)
	b.Status = st
	return b, nil
}

// GetPositions returns broker-reported positions.
func (a *Adapter) GetPositions(ctx context.Context) ([]domain.RawPosition, error) {
	if a.paper != nil {
		return a.paper.Positions(), nil
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	return a.client.GetPositions(cctx)
}

// GetAccount returns the account capital summary.
func (a *Adapter) GetAccount(ctx context.Context) (domain.Account, error) {
	if a.paper != nil {
		return a.paper.Account(), nil
	}
	cctx, cancel := a.callCtx(ctx)
	defer cancel()
	return a.client.GetAccount(cctx)
}

// Mark feeds a market price to the paper book so resting orders can fill.
// It does nothing against a live venue.
func (a *Adapter) Mark(symbol string, price float64) {
	if a.paper != nil {
		a.paper.Mark(symbol, price)
	}
}
