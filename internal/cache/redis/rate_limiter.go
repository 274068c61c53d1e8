package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter using a sliding window backed
// by a Redis sorted set and an atomic Lua script. The broker limiter uses it
// so the daily order cap survives restarts; the ops API uses it per client.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return keyPrefix + "ratelimit:" + key
}

// Allow reports whether one more request for key fits within limit per
// window. An admitted request is counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
