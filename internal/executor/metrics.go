package executor

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Fill quality buckets by absolute slippage percent.
const (
	QualityExcellent = "EXCELLENT"
	QualityGood      = "GOOD"
	QualityFair      = "FAIR"
	QualityPoor      = "POOR"
	QualityVeryPoor  = "VERY_POOR"
)

const maxMetricsKept = 1000

// FillQuality grades an entry by its slippage percent.
func FillQuality(slippagePct float64) string {
	s := math.Abs(slippagePct)
	switch {
	case s <= 0.05:
		return QualityExcellent
	case s <= 0.1:
		return QualityGood
	case s <= 0.2:
		return QualityFair
	case s <= 0.5:
		return QualityPoor
	}
	return QualityVeryPoor
}

// Measure computes entry quality. Slippage is positive when the fill was
// worse than expected for the entry side.
func Measure(sig domain.Signal, fill float64, signalTime, executed time.Time) domain.ExecutionMetrics {
	slip := fill - sig.EntryPrice
	if sig.EntrySide() == domain.OrderSideSell {
		slip = -slip
	}
	var pct float64
	if sig.EntryPrice > 0 {
		pct = slip / sig.EntryPrice * 100
	}
	return domain.ExecutionMetrics{
		Symbol:          sig.Symbol,
		SignalTime:      signalTime,
		ExecutionTime:   executed,
		ExpectedPrice:   sig.EntryPrice,
		EntryPrice:      fill,
		Slippage:        slip,
		SlippagePercent: pct,
		Delay:           executed.Sub(signalTime),
		FillQuality:     FillQuality(pct),
	}
}

// ExecutionSummary aggregates recorded entries.
type ExecutionSummary struct {
	Executions         int            `json:"executions"`
	AvgSlippagePercent float64        `json:"avg_slippage_percent"`
	MinSlippagePercent float64        `json:"min_slippage_percent"`
	MaxSlippagePercent float64        `json:"max_slippage_percent"`
	AvgDelay           time.Duration  `json:"avg_delay"`
	MaxDelay           time.Duration  `json:"max_delay"`
	Quality            map[string]int `json:"quality_distribution"`
}

// DailyStats counts today's order flow.
type DailyStats struct {
	Date           string  `json:"date"`
	OrdersPlaced   int     `json:"orders_placed"`
	OrdersFilled   int     `json:"orders_filled"`
	OrdersRejected int     `json:"orders_rejected"`
	TradesOpened   int     `json:"trades_opened"`
	TradesClosed   int     `json:"trades_closed"`
	RealizedPnL    float64 `json:"realized_pnl"`
}

// Analytics records execution metrics and daily counters.
type Analytics struct {
	now func() time.Time

	mu      sync.Mutex
	metrics []domain.ExecutionMetrics
	daily   DailyStats
}

// NewAnalytics creates an empty recorder.
func NewAnalytics() *Analytics {
	return &Analytics{now: time.Now}
}

// rollover resets the daily counters on a new UTC day. Caller holds a.mu.
func (a *Analytics) rollover() {
	day := a.now().UTC().Format(time.DateOnly)
	if a.daily.Date != day {
		a.daily = DailyStats{Date: day}
	}
}

// Record stores one entry measurement.
func (a *Analytics) Record(m domain.ExecutionMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = append(a.metrics, m)
	if len(a.metrics) > maxMetricsKept {
		a.metrics = a.metrics[len(a.metrics)-maxMetricsKept:]
	}
}

func (a *Analytics) orderPlaced() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	a.daily.OrdersPlaced++
}

func (a *Analytics) orderFilled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	a.daily.OrdersFilled++
}

func (a *Analytics) orderRejected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	a.daily.OrdersRejected++
}

func (a *Analytics) tradeOpened() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	a.daily.TradesOpened++
}

func (a *Analytics) tradeClosed(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	a.daily.TradesClosed++
	a.daily.RealizedPnL += pnl
}

// Daily returns today's counters.
func (a *Analytics) Daily() DailyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover()
	return a.daily
}

// Summary aggregates every recorded entry.
func (a *Analytics) Summary() ExecutionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := ExecutionSummary{Executions: len(a.metrics), Quality: map[string]int{}}
	if len(a.metrics) == 0 {
		return out
	}
	out.MinSlippagePercent = math.Inf(1)
	out.MaxSlippagePercent = math.Inf(-1)
	var slip float64
	var delay time.Duration
	for _, m := range a.metrics {
		slip += m.SlippagePercent
		out.MinSlippagePercent = math.Min(out.MinSlippagePercent, m.SlippagePercent)
		out.MaxSlippagePercent = math.Max(out.MaxSlippagePercent, m.SlippagePercent)
		delay += m.Delay
		out.MaxDelay = max(out.MaxDelay, m.Delay)
		out.Quality[m.FillQuality]++
	}
	out.AvgSlippagePercent = slip / float64(len(a.metrics))
	out.AvgDelay = delay / time.Duration(len(a.metrics))
	return out
}
