package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes so several
// processes share one quote cache. Each symbol lives at
// "gaptrader:price:{symbol}" with fields "price" and "ts" (Unix nanoseconds),
// and expires after ttl.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A ttl of zero keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return keyPrefix + "price:" + symbol
}

// SetPrice stores the latest price and timestamp for symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price and its timestamp. It returns
// domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", symbol, err)
	}
	return price, ts, nil
}

// GetPrices returns cached prices for symbols in one round trip. Missing
// or unparsable entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, priceKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := parsePrice(vals); err == nil {
			result[s] = price
		}
	}
	return result, nil
}

// parsePrice decodes a cached price hash.
func parsePrice(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
