package oracle

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Validator rejects implausible market data.
type Validator struct {
	// MaxDeviation is the largest accepted move from the previous accepted
	// quote, as a fraction.
	MaxDeviation float64
	// DeviationWindow bounds how old the previous quote may be for the
	// deviation check to apply. Overnight gaps are expected to exceed it.
	DeviationWindow time.Duration
	// ConfirmAfter is the number of consecutive deviation rejections after
	// which a move is treated as real.
	ConfirmAfter int
	// AgreeWithin is how close two sources must be, as a fraction, for a
	// large move they both report to be accepted.
	AgreeWithin float64
}

// NewValidator returns a Validator with a 20% deviation bound over five
// minutes.
func NewValidator() *Validator {
	return &Validator{
		MaxDeviation:    0.2,
		DeviationWindow: 5 * time.Minute,
		ConfirmAfter:    3,
		AgreeWithin:     0.01,
	}
}

// CheckQuote returns the list of problems found with q. An empty list means
// the quote is usable.
func (v *Validator) CheckQuote(q domain.Quote, prev *domain.Quote) []string {
	var issues []string
	if q.Last <= 0 || math.IsNaN(q.Last) || math.IsInf(q.Last, 0) {
		issues = append(issues, "non-positive last price")
	}
	if q.Volume < 0 {
		issues = append(issues, "negative volume")
	}
	// High/low are optional; only check them when the source reported both.
	if q.High > 0 && q.Low > 0 {
		if q.High < q.Low {
			issues = append(issues, "high below low")
		} else if q.Last > 0 && (q.Last < q.Low || q.Last > q.High) {
			issues = append(issues, "last outside high-low range")
		}
	}
	if prev != nil {
		if change, ok := v.Deviation(q, *prev); !ok {
			issues = append(issues, fmt.Sprintf("price deviation %.2f%%", change*100))
		}
	}
	return issues
}

// Deviation returns the fractional move of q from prev and whether it is
// within MaxDeviation.
func (v *Validator) Deviation(q, prev domain.Quote) (float64, bool) {
	if prev.Last <= 0 || q.Last <= 0 {
		return 0, true
	}
	change := math.Abs(q.Last-prev.Last) / prev.Last
	return change, change <= v.MaxDeviation
}

// Agree reports whether two prices are within AgreeWithin of each other.
func (v *Validator) Agree(a, b float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	return math.Abs(a-b)/b <= v.AgreeWithin
}

// CleanBars drops bars with non-positive or inconsistent OHLC values and
// returns the kept bars and the number dropped.
func (v *Validator) CleanBars(in []domain.Bar) ([]domain.Bar, int) {
	out := make([]domain.Bar, 0, len(in))
	for _, b := range in {
		if !b.Valid() || b.Volume < 0 {
			continue
		}
		out = append(out, b)
	}
	return out, len(in) - len(out)
}
