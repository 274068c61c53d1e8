package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock drives a Limiter without real sleeping.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeLimiter(cfg LimitConfig, shared domain.RateLimiter) (*Limiter, *fakeClock) {
	clk := &fakeClock{now: time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg, shared, testLogger())
	l.now = func() time.Time { return clk.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		clk.sleeps = append(clk.sleeps, d)
		clk.now = clk.now.Add(d)
		return nil
	}
	return l, clk
}

func TestLimiter_MinGap(t *testing.T) {
	l, clk := newFakeLimiter(LimitConfig{PerMinute: 200, MinGap: 330 * time.Millisecond, DailyCap: 3000}, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Equal(t, []time.Duration{330 * time.Millisecond, 330 * time.Millisecond}, clk.sleeps)
	assert.Equal(t, 3, l.Used())
}

func TestLimiter_RollingMinute(t *testing.T) {
	l, clk := newFakeLimiter(LimitConfig{PerMinute: 3, DailyCap: 100}, nil)
	start := clk.now
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
		clk.now = clk.now.Add(time.Second)
	}
	require.NoError(t, l.Wait(context.Background()))
	require.Len(t, clk.sleeps, 1)
	// The fourth call waits until the first falls out of the window.
	assert.Equal(t, start.Add(time.Minute), clk.now)
}

func TestLimiter_DailyCapRefusesWithoutBlocking(t *testing.T) {
	l, clk := newFakeLimiter(LimitConfig{PerMinute: 200, DailyCap: 2}, nil)
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))

	err := l.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrDailyCapReached)
	assert.Empty(t, clk.sleeps)

	clk.now = clk.now.Add(24 * time.Hour)
	assert.NoError(t, l.Wait(context.Background()))
}

type fakeShared struct {
	allow bool
	err   error
	calls int
}

func (f *fakeShared) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	if key != dailyCapKey || limit != 10 || window != 24*time.Hour {
		return false, errors.New("unexpected arguments")
	}
	return f.allow, f.err
}

func TestLimiter_SharedCounter(t *testing.T) {
	shared := &fakeShared{allow: false}
	l, _ := newFakeLimiter(LimitConfig{PerMinute: 200, DailyCap: 10}, shared)
	assert.ErrorIs(t, l.Wait(context.Background()), domain.ErrDailyCapReached)

	shared.allow = true
	assert.NoError(t, l.Wait(context.Background()))

	// A broken shared counter does not stop trading.
	shared.err = errors.New("redis down")
	assert.NoError(t, l.Wait(context.Background()))
	assert.Equal(t, 3, shared.calls)
}

func TestLimiter_CancelWhileWaiting(t *testing.T) {
	l := NewLimiter(LimitConfig{PerMinute: 1, DailyCap: 10}, nil, testLogger())
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
