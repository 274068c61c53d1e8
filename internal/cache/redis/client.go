// Package redis holds the shared, cross-process state of the trader in
// Redis: the quote cache, the broker order counters, the single-instance
// lock and the signal/event bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key and channel this package touches.
const keyPrefix = "gaptrader:"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// options maps cfg onto go-redis options. Timeouts are short: every caller
// treats Redis as optional and degrades when it is slow.
func options(cfg ClientConfig) *redis.Options {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		ClientName:   "gaptrader",
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client owns the go-redis connection pool.
type Client struct {
	rdb *redis.Client
}

// New connects and pings the server.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(options(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping is the health check used by the ops API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
