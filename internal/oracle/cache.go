package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

var _ domain.PriceCache = (*MemoryCache)(nil)

// MemoryCache is an in-process domain.PriceCache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]cachedPrice)}
}

// SetPrice stores the price for symbol.
func (c *MemoryCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[symbol] = cachedPrice{price: price, ts: ts}
	c.mu.Unlock()
	return nil
}

// GetPrice returns the cached price or domain.ErrNotFound.
func (c *MemoryCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	p, ok := c.prices[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

// GetPrices returns cached prices for the requested symbols that exist.
func (c *MemoryCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p.price
		}
	}
	return out, nil
}
