package executor

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

const (
	maxClosedKept = 500

	// pendingEntry marks a symbol whose entry is still being placed.
	pendingEntry = "pending"
)

// registry owns every Trade the coordinator has opened. Lifecycle monitors
// never hold a *Trade; they ask the registry for a copy and report
// transitions through its methods.
type registry struct {
	mu      sync.Mutex
	trades  map[string]*domain.Trade
	exiting map[string]bool
	closed  []string
	// symbols maps a symbol to the trade holding it, or to pendingEntry.
	symbols map[string]string
}

func newRegistry() *registry {
	return &registry{
		trades:  make(map[string]*domain.Trade),
		exiting: make(map[string]bool),
		symbols: make(map[string]string),
	}
}

// reserve claims symbol for a new entry. It fails while another entry is
// in flight or a trade on the symbol is still open.
func (r *registry) reserve(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.symbols[symbol]; taken {
		return false
	}
	r.symbols[symbol] = pendingEntry
	return true
}

// release drops a reservation that never became a trade.
func (r *registry) release(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.symbols[symbol] == pendingEntry {
		delete(r.symbols, symbol)
	}
}

// releaseStuck frees symbols held by trades whose exit failed.
func (r *registry) releaseStuck() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var freed []string
	for sym, id := range r.symbols {
		if id == pendingEntry {
			continue
		}
		if t, ok := r.trades[id]; !ok || t.Status.Terminal() {
			delete(r.symbols, sym)
			freed = append(freed, sym)
		}
	}
	sort.Strings(freed)
	return freed
}

func (r *registry) add(t domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades[t.ID] = &t
	r.symbols[t.Signal.Symbol] = t.ID
}

func (r *registry) get(id string) (domain.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok {
		return domain.Trade{}, false
	}
	return *t, true
}

// beginExit claims the right to close an open trade. Only the first caller
// gets true.
func (r *registry) beginExit(id string) (domain.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok || !t.Status.Open() || r.exiting[id] {
		return domain.Trade{}, false
	}
	r.exiting[id] = true
	return *t, true
}

// finish moves a trade to a terminal state. The symbol stays held when the
// exit failed, since the broker may still carry the position.
func (r *registry) finish(id string, status domain.TradeStatus, reason string, exitPrice float64, exitOrderID, failure string, at time.Time) (domain.Trade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok || t.Status.Terminal() {
		return domain.Trade{}, false
	}
	t.Status = status
	t.ExitReason = reason
	t.ExitPrice = exitPrice
	t.ExitOrderID = exitOrderID
	t.ExitFailure = failure
	t.CompletedAt = &at
	delete(r.exiting, id)
	if failure == "" && r.symbols[t.Signal.Symbol] == id {
		delete(r.symbols, t.Signal.Symbol)
	}

	r.closed = append(r.closed, id)
	if len(r.closed) > maxClosedKept {
		drop := r.closed[0]
		r.closed = r.closed[1:]
		delete(r.trades, drop)
	}
	return *t, true
}

// open returns copies of every non-terminal trade.
func (r *registry) open() []domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Trade
	for _, t := range r.trades {
		if t.Status.Open() {
			out = append(out, *t)
		}
	}
	sortTrades(out)
	return out
}

// all returns copies of every remembered trade, oldest first.
func (r *registry) all() []domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, *t)
	}
	sortTrades(out)
	return out
}

// openRisk sums the loss to the protective stops of open trades.
func (r *registry) openRisk() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, t := range r.trades {
		if t.Status.Open() {
			sum += t.OpenRisk()
		}
	}
	return sum
}

func sortTrades(ts []domain.Trade) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].EntryTime.Before(ts[j].EntryTime) })
}
