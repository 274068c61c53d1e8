package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// dailyCapKey is the shared counter consulted when a distributed limiter is
// configured, so the cap survives restarts.
const dailyCapKey = "broker:orders:day"

// LimitConfig bounds order submissions.
type LimitConfig struct {
	PerMinute int
	MinGap    time.Duration
	DailyCap  int
}

// Limiter enforces a rolling per-minute budget and a minimum spacing between
// submissions by blocking, and a daily cap by refusing.
type Limiter struct {
	cfg    LimitConfig
	shared domain.RateLimiter
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	window   []time.Time
	last     time.Time
	day      string
	dayCount int
}

// NewLimiter creates a Limiter. shared may be nil.
func NewLimiter(cfg LimitConfig, shared domain.RateLimiter, logger *slog.Logger) *Limiter {
	return &Limiter{
		cfg:    cfg,
		shared: shared,
		logger: logger.With(slog.String("component", "broker-limiter")),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until a submission may proceed. It returns
// domain.ErrDailyCapReached without blocking once the day's budget is spent.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, err := l.reserve()
		if err != nil {
			return err
		}
		if wait <= 0 {
			break
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if l.shared != nil && l.cfg.DailyCap > 0 {
		ok, err := l.shared.Allow(ctx, dailyCapKey, l.cfg.DailyCap, 24*time.Hour)
		switch {
		case err != nil:
			l.logger.WarnContext(ctx, "broker: shared daily counter unavailable, using local count",
				slog.String("error", err.Error()))
		case !ok:
			return fmt.Errorf("broker: %w (shared)", domain.ErrDailyCapReached)
		}
	}
	return nil
}

// reserve takes a slot when one is free now, otherwise it returns how long
// to wait before trying again.
func (l *Limiter) reserve() (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if day := now.UTC().Format(time.DateOnly); day != l.day {
		l.day = day
		l.dayCount = 0
	}
	if l.cfg.DailyCap > 0 && l.dayCount >= l.cfg.DailyCap {
		return 0, fmt.Errorf("broker: %w (%d)", domain.ErrDailyCapReached, l.cfg.DailyCap)
	}

	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	l.window = l.window[i:]

	var wait time.Duration
	if !l.last.IsZero() {
		if d := l.last.Add(l.cfg.MinGap).Sub(now); d > wait {
			wait = d
		}
	}
	if l.cfg.PerMinute > 0 && len(l.window) >= l.cfg.PerMinute {
		if d := l.window[0].Add(time.Minute).Sub(now); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait, nil
	}

	l.window = append(l.window, now)
	l.last = now
	l.dayCount++
	return 0, nil
}

// Used returns the submissions counted today.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayCount
}
