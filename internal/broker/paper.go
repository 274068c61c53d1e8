package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// PaperBook simulates a brokerage in memory. MARKET orders fill at once at
// the reference price; resting orders fill when Mark moves the market
// across their level.
type PaperBook struct {
	capital float64
	now     func() time.Time

	mu        sync.Mutex
	orders    map[string]*paperOrder
	brackets  map[string]*domain.BracketExit
	positions map[string]*paperPosition
	marks     map[string]float64
	realized  float64
}

type paperOrder struct {
	domain.Order
	// triggered is set once a STOP order's trigger has been hit and it
	// rests as a limit.
	triggered bool
}

type paperPosition struct {
	qty int64
	avg float64
}

// NewPaperBook creates a book with the given starting equity.
func NewPaperBook(capital float64) *PaperBook {
	return &PaperBook{
		capital:   capital,
		now:       time.Now,
		orders:    make(map[string]*paperOrder),
		brackets:  make(map[string]*domain.BracketExit),
		positions: make(map[string]*paperPosition),
		marks:     make(map[string]float64),
	}
}

// Submit accepts an order.
func (p *PaperBook) Submit(req domain.OrderRequest) (domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return domain.Order{}, fmt.Errorf("paper: submit %s: %w", req.Symbol, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.newOrder(req, "")
	p.evaluate(o, p.marks[req.Symbol])
	return o.Order, nil
}

func (p *PaperBook) newOrder(req domain.OrderRequest, parent string) *paperOrder {
	now := p.now()
	o := &paperOrder{Order: domain.Order{
		ID:        uuid.NewString(),
		ParentID:  parent,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Kind:      req.Kind,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Trigger:   req.Trigger,
		Status:    domain.OrderStatusOpen,
		Tag:       req.Tag,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if req.Kind == domain.OrderKindStop || req.Kind == domain.OrderKindStopMarket {
		o.Status = domain.OrderStatusTriggerPending
	}
	p.orders[o.ID] = o
	return o
}

// evaluate fills o if the market crosses it. Caller holds p.mu.
func (p *PaperBook) evaluate(o *paperOrder, market float64) {
	if o.Status.Terminal() {
		return
	}
	switch o.Kind {
	case domain.OrderKindMarket:
		price := o.Price
		if price <= 0 {
			price = market
		}
		if price <= 0 {
			p.finish(o, domain.OrderStatusRejected, 0, "no reference price")
			return
		}
		p.fill(o, price)
	case domain.OrderKindLimit:
		if Crosses(domain.OrderKindLimit, o.Side, o.Price, market) {
			p.fill(o, o.Price)
		}
	case domain.OrderKindStopMarket:
		if Crosses(o.Kind, o.Side, o.Trigger, market) {
			p.fill(o, market)
		}
	case domain.OrderKindStop:
		if !o.triggered && Crosses(o.Kind, o.Side, o.Trigger, market) {
			o.triggered = true
			o.Status = domain.OrderStatusOpen
			o.UpdatedAt = p.now()
		}
		if o.triggered && Crosses(domain.OrderKindLimit, o.Side, o.Price, market) {
			p.fill(o, o.Price)
		}
	}
}

func (p *PaperBook) fill(o *paperOrder, price float64) {
	p.finish(o, domain.OrderStatusComplete, price, "")
	p.applyFill(o.Symbol, o.Side, o.Quantity, price)

	if o.ParentID == "" {
		return
	}
	b, ok := p.brackets[o.ParentID]
	if !ok || b.Status != domain.BracketActive {
		return
	}
	b.Status = domain.BracketTriggered
	for _, id := range []string{b.Target.OrderID, b.Stop.OrderID} {
		if sib, ok := p.orders[id]; ok && sib.ID != o.ID {
			p.finish(sib, domain.OrderStatusCancelled, 0, "oco sibling filled")
		}
	}
}

func (p *PaperBook) finish(o *paperOrder, status domain.OrderStatus, price float64, msg string) {
	o.Status = status
	o.Message = msg
	if status == domain.OrderStatusComplete {
		o.FilledQty = o.Quantity
		o.AveragePrice = price
	}
	o.UpdatedAt = p.now()
}

// applyFill updates the position and realized P&L.
func (p *PaperBook) applyFill(symbol string, side domain.OrderSide, qty int64, price float64) {
	delta := qty
	if side == domain.OrderSideSell {
		delta = -qty
	}
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}

	switch {
	case pos.qty == 0 || (pos.qty > 0) == (delta > 0):
		total := pos.qty + delta
		pos.avg = (pos.avg*float64(abs64(pos.qty)) + price*float64(abs64(delta))) / float64(abs64(total))
		pos.qty = total
	default:
		closed := min(abs64(delta), abs64(pos.qty))
		sign := 1.0
		if pos.qty < 0 {
			sign = -1
		}
		p.realized += (price - pos.avg) * float64(closed) * sign
		pos.qty += delta
		if pos.qty != 0 && (pos.qty > 0) != (sign > 0) {
			// Flipped through flat: the remainder opens at the fill price.
			pos.avg = price
		}
	}
	if pos.qty == 0 {
		delete(p.positions, symbol)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Get returns an order by id.
func (p *PaperBook) Get(id string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("paper: order %s: %w", id, domain.ErrNotFound)
	}
	return o.Order, nil
}

// Cancel cancels an open order. Cancelling an already cancelled order is a
// no-op; cancelling a filled or rejected one is an error.
func (p *PaperBook) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", id, domain.ErrNotFound)
	}
	switch o.Status {
	case domain.OrderStatusCancelled:
		return nil
	case domain.OrderStatusComplete, domain.OrderStatusRejected:
		return fmt.Errorf("paper: cancel %s: order is %s: %w", id, o.Status, domain.ErrBrokerRejected)
	}
	p.finish(o, domain.OrderStatusCancelled, 0, "cancelled")
	return nil
}

// PlaceBracket rests an OCO pair: a LIMIT at target and a STOP_MARKET at
// stop, both on side. current marks the market before the legs are checked.
func (p *PaperBook) PlaceBracket(symbol string, side domain.OrderSide, qty int64, target, stop, current float64, expiry time.Duration) (domain.BracketExit, error) {
	if symbol == "" || qty <= 0 || target <= 0 || stop <= 0 {
		return domain.BracketExit{}, fmt.Errorf("paper: bracket %s: %w", symbol, domain.ErrInvalidOrder)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	b := &domain.BracketExit{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Status:    domain.BracketActive,
		CreatedAt: now,
	}
	if expiry > 0 {
		b.ExpiresAt = now.Add(expiry)
	}
	tgt := p.newOrder(domain.OrderRequest{Symbol: symbol, Side: side, Quantity: qty, Kind: domain.OrderKindLimit, Price: target, Tag: "target"}, b.ID)
	stp := p.newOrder(domain.OrderRequest{Symbol: symbol, Side: side, Quantity: qty, Kind: domain.OrderKindStopMarket, Trigger: stop, Tag: "stop"}, b.ID)
	b.Target = domain.BracketLeg{OrderID: tgt.ID, Kind: tgt.Kind, Price: target}
	b.Stop = domain.BracketLeg{OrderID: stp.ID, Kind: stp.Kind, Trigger: stop}
	p.brackets[b.ID] = b

	if current > 0 {
		p.marks[symbol] = current
	}
	p.evaluate(stp, p.marks[symbol])
	p.evaluate(tgt, p.marks[symbol])
	return *b, nil
}

// CancelBracket cancels both legs together. It is a no-op for a bracket
// that is no longer active.
func (p *PaperBook) CancelBracket(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brackets[id]
	if !ok {
		return fmt.Errorf("paper: bracket %s: %w", id, domain.ErrNotFound)
	}
	if b.Status != domain.BracketActive {
		return nil
	}
	p.closeBracket(b, domain.BracketCancelled, "bracket cancelled")
	return nil
}

func (p *PaperBook) closeBracket(b *domain.BracketExit, status domain.BracketStatus, msg string) {
	b.Status = status
	for _, id := range []string{b.Target.OrderID, b.Stop.OrderID} {
		if o, ok := p.orders[id]; ok && !o.Status.Terminal() {
			p.finish(o, domain.OrderStatusCancelled, 0, msg)
		}
	}
}

// Bracket returns a bracket by id.
func (p *PaperBook) Bracket(id string) (domain.BracketExit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brackets[id]
	if !ok {
		return domain.BracketExit{}, fmt.Errorf("paper: bracket %s: %w", id, domain.ErrNotFound)
	}
	return *b, nil
}

// Mark records a market price for symbol, expires stale brackets and fills
// every resting order the price crosses.
func (p *PaperBook) Mark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price

	now := p.now()
	for _, b := range p.brackets {
		if b.Symbol == symbol && b.Status == domain.BracketActive && !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt) {
			p.closeBracket(b, domain.BracketExpired, "bracket expired")
		}
	}
	for _, o := range p.orders {
		if o.Symbol == symbol {
			p.evaluate(o, price)
		}
	}
}

// Positions returns every non-flat position.
func (p *PaperBook) Positions() []domain.RawPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.RawPosition, 0, len(p.positions))
	for sym, pos := range p.positions {
		last := p.marks[sym]
		if last <= 0 {
			last = pos.avg
		}
		out = append(out, domain.RawPosition{
			Symbol:        sym,
			Quantity:      pos.qty,
			AveragePrice:  pos.avg,
			LastPrice:     last,
			UnrealizedPnL: (last - pos.avg) * float64(pos.qty),
		})
	}
	return out
}

// Account reports equity as starting capital plus realized and unrealized
// P&L. LastEquity is the starting capital.
func (p *PaperBook) Account() domain.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	cash := p.capital + p.realized
	var unrealized float64
	for sym, pos := range p.positions {
		last := p.marks[sym]
		if last <= 0 {
			last = pos.avg
		}
		unrealized += (last - pos.avg) * float64(pos.qty)
		cash -= pos.avg * float64(pos.qty)
	}
	return domain.Account{
		Equity:      p.capital + p.realized + unrealized,
		Cash:        cash,
		BuyingPower: cash,
		LastEquity:  p.capital,
	}
}
