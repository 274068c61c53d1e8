package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only if it still holds the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL. Trade
// mode takes a lock so two processes never trade the same account.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
	logger    *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		logger:    logger.With(slog.String("component", "redis-lock")),
	}
}

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}

// Acquire obtains the lock for key with the given TTL. The returned unlock
// function is safe to call more than once. It returns domain.ErrLockHeld if
// another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Hold acquires the lock and keeps refreshing it at ttl/3 until ctx is
// cancelled, then releases it. It returns once the lock is taken; lost is
// closed if a refresh finds the lock gone.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (lost <-chan struct{}, err error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
				cancel()
				return
			case <-ticker.C:
				n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
				if err != nil {
					lm.logger.WarnContext(ctx, "redis: lock refresh failed",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					continue
				}
				if n == 0 {
					lm.logger.ErrorContext(ctx, "redis: lock lost", slog.String("key", key))
					close(ch)
					return
				}
			}
		}
	}()
	return ch, nil
}

var _ domain.LockManager = (*LockManager)(nil)
