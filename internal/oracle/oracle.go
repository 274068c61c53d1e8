// Package oracle supplies last-traded prices and historical bars from an
// ordered list of interchangeable market data sources.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// Source is one market data backend.
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
	Bars(ctx context.Context, symbol string, from, to time.Time, interval domain.Interval) ([]domain.Bar, error)
}

// Config tunes caching.
type Config struct {
	CacheTTL     time.Duration
	BarsCacheTTL time.Duration
}

// Oracle fails over across sources in order. A source is skipped when it
// errors or when its data is rejected by the quality checks.
type Oracle struct {
	sources   []Source
	cache     domain.PriceCache
	validator *Validator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastGood map[string]domain.Quote
	moves    map[string]int
	bars     map[string]barsEntry
}

type barsEntry struct {
	bars    []domain.Bar
	fetched time.Time
}

// New creates an Oracle. cache may be nil, in which case an in-process
// cache is used.
func New(sources []Source, cache domain.PriceCache, cfg Config, logger *slog.Logger) *Oracle {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	if cfg.BarsCacheTTL <= 0 {
		cfg.BarsCacheTTL = 5 * time.Minute
	}
	return &Oracle{
		sources:   sources,
		cache:     cache,
		validator: NewValidator(),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "oracle")),
		now:       time.Now,
		lastGood:  make(map[string]domain.Quote),
		moves:     make(map[string]int),
		bars:      make(map[string]barsEntry),
	}
}

// Sources returns the configured source names in failover order.
func (o *Oracle) Sources() []string {
	names := make([]string, len(o.sources))
	for i, s := range o.sources {
		names[i] = s.Name()
	}
	return names
}

// GetLastPrice returns the last traded price for symbol.
func (o *Oracle) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	if price, ts, err := o.cache.GetPrice(ctx, symbol); err == nil && o.now().Sub(ts) < o.cfg.CacheTTL {
		return price, nil
	}
	q, err := o.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.Last, nil
}

// GetQuote fetches a fresh quote, bypassing the price cache.
func (o *Oracle) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	o.mu.Lock()
	prev, hasPrev := o.lastGood[symbol]
	o.mu.Unlock()

	var prevPtr *domain.Quote
	if hasPrev && o.now().Sub(prev.Time) < o.validator.DeviationWindow {
		prevPtr = &prev
	}

	var (
		errs    []error
		outlier *domain.Quote
	)
	for _, src := range o.sources {
		if err := ctx.Err(); err != nil {
			return domain.Quote{}, err
		}
		q, err := src.Quote(ctx, symbol)
		if err != nil {
			o.logger.WarnContext(ctx, "oracle: quote failed, trying next source",
				slog.String("source", src.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if issues := o.validator.CheckQuote(q, nil); len(issues) > 0 {
			o.logger.WarnContext(ctx, "oracle: quote rejected by quality checks",
				slog.String("source", src.Name()),
				slog.String("symbol", symbol),
				slog.Any("issues", issues),
			)
			errs = append(errs, fmt.Errorf("%s: %w: %v", src.Name(), domain.ErrDataQuality, issues))
			continue
		}
		if prevPtr != nil {
			if change, ok := o.validator.Deviation(q, *prevPtr); !ok && !o.confirmMove(ctx, symbol, src.Name(), q, outlier, change) {
				issue := fmt.Sprintf("price deviation %.2f%%", change*100)
				o.logger.WarnContext(ctx, "oracle: quote rejected by quality checks",
					slog.String("source", src.Name()),
					slog.String("symbol", symbol),
					slog.Any("issues", []string{issue}),
				)
				errs = append(errs, fmt.Errorf("%s: %w: %s", src.Name(), domain.ErrDataQuality, issue))
				seen := q
				outlier = &seen
				continue
			}
		}

		q.Symbol = symbol
		q.Source = src.Name()
		if q.Time.IsZero() {
			q.Time = o.now()
		}
		o.mu.Lock()
		o.lastGood[symbol] = q
		delete(o.moves, symbol)
		o.mu.Unlock()
		if err := o.cache.SetPrice(ctx, symbol, q.Last, o.now()); err != nil {
			o.logger.WarnContext(ctx, "oracle: cache write failed", slog.String("error", err.Error()))
		}
		return q, nil
	}
	return domain.Quote{}, fmt.Errorf("oracle: quote %s: %w", symbol, errors.Join(append([]error{domain.ErrNoData}, errs...)...))
}

// confirmMove decides whether a quote that failed the deviation check is a
// real move. It is accepted when another source in the same round reported
// the same price, or when the symbol has been rejected ConfirmAfter times in
// a row.
func (o *Oracle) confirmMove(ctx context.Context, symbol, source string, q domain.Quote, other *domain.Quote, change float64) bool {
	if other != nil && o.validator.Agree(q.Last, other.Last) {
		o.logger.WarnContext(ctx, "oracle: large price move confirmed by second source",
			slog.String("source", source),
			slog.String("symbol", symbol),
			slog.Float64("price", q.Last),
			slog.Float64("change_pct", change*100),
		)
		return true
	}
	o.mu.Lock()
	o.moves[symbol]++
	n := o.moves[symbol]
	o.mu.Unlock()
	if o.validator.ConfirmAfter > 0 && n >= o.validator.ConfirmAfter {
		o.logger.WarnContext(ctx, "oracle: accepting sustained price move",
			slog.String("source", source),
			slog.String("symbol", symbol),
			slog.Float64("price", q.Last),
			slog.Float64("change_pct", change*100),
			slog.Int("rejections", n-1),
		)
		return true
	}
	return false
}

// GetHistoricalBars returns cleaned bars for [from, to].
func (o *Oracle) GetHistoricalBars(ctx context.Context, symbol string, from, to time.Time, interval domain.Interval) ([]domain.Bar, error) {
	key := barsKey(symbol, from, to, interval)
	o.mu.Lock()
	if e, ok := o.bars[key]; ok && o.now().Sub(e.fetched) < o.cfg.BarsCacheTTL {
		o.mu.Unlock()
		return cloneBars(e.bars), nil
	}
	o.mu.Unlock()

	var errs []error
	for _, src := range o.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := src.Bars(ctx, symbol, from, to, interval)
		if err != nil {
			o.logger.WarnContext(ctx, "oracle: bars failed, trying next source",
				slog.String("source", src.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		bars, dropped := o.validator.CleanBars(raw)
		if len(bars) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w: %d of %d bars unusable", src.Name(), domain.ErrDataQuality, dropped, len(raw)))
			continue
		}
		if dropped > 0 {
			o.logger.DebugContext(ctx, "oracle: dropped bad bars",
				slog.String("source", src.Name()),
				slog.String("symbol", symbol),
				slog.Int("dropped", dropped),
			)
		}
		o.mu.Lock()
		o.bars[key] = barsEntry{bars: bars, fetched: o.now()}
		o.mu.Unlock()
		return cloneBars(bars), nil
	}
	return nil, fmt.Errorf("oracle: bars %s: %w", symbol, errors.Join(append([]error{domain.ErrNoData}, errs...)...))
}

// PruneCache drops expired bar entries.
func (o *Oracle) PruneCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, e := range o.bars {
		if o.now().Sub(e.fetched) >= o.cfg.BarsCacheTTL {
			delete(o.bars, k)
		}
	}
}

// barsKey aligns the range to whole bars so repeated requests ending "now"
// share an entry until a new bar opens.
func barsKey(symbol string, from, to time.Time, interval domain.Interval) string {
	step := interval.Duration()
	return fmt.Sprintf("%s|%d|%d|%s", symbol, from.UTC().Truncate(step).Unix(), to.UTC().Truncate(step).Unix(), interval)
}

func cloneBars(in []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(in))
	copy(out, in)
	return out
}
