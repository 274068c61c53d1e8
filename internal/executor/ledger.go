package executor

import (
	"context"
	"sync"

	"github.com/alanyoungcy/gaptrader/internal/domain"
	"github.com/alanyoungcy/gaptrader/internal/risk"
)

const defaultLedgerWindow = 20

// Ledger keeps the returns of recently closed trades and serves them to the
// risk gate as performance history.
type Ledger struct {
	window int

	mu      sync.Mutex
	returns []float64
}

var _ risk.PerformanceSource = (*Ledger)(nil)

// NewLedger keeps the last window returns.
func NewLedger(window int) *Ledger {
	if window <= 0 {
		window = defaultLedgerWindow
	}
	return &Ledger{window: window}
}

// Seed preloads returns, oldest first.
func (l *Ledger) Seed(returns []float64) {
	for _, r := range returns {
		l.Add(r)
	}
}

// Add appends one closed trade's fractional return.
func (l *Ledger) Add(ret float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.returns = append(l.returns, ret)
	if len(l.returns) > l.window {
		l.returns = l.returns[len(l.returns)-l.window:]
	}
}

// Performance implements risk.PerformanceSource.
func (l *Ledger) Performance(context.Context) (domain.PerformanceStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return risk.StatsFromReturns(l.returns), nil
}
