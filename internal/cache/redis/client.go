// Package redis implements the snapshot caches, signal bus, signer lock and
// API rate limiter on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// CacheTTL bounds how long market and state snapshots survive.
	CacheTTL time.Duration
	// StreamMaxLen caps tx streams via approximate XADD trimming.
	StreamMaxLen int64
}

// Client wraps a go-redis Client and carries the cache tuning shared by the
// types built on it.
type Client struct {
	rdb          *redis.Client
	cacheTTL     time.Duration
	streamMaxLen int64
}

// New creates a new Redis Client, pings it to verify connectivity, and returns
// the wrapper. It returns an error if the connection cannot be established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	c := &Client{rdb: rdb, cacheTTL: cfg.CacheTTL, streamMaxLen: cfg.StreamMaxLen}
	if c.cacheTTL <= 0 {
		c.cacheTTL = 10 * time.Minute
	}
	if c.streamMaxLen <= 0 {
		c.streamMaxLen = 10000
	}
	return c, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for sub-packages that need direct
// access to the driver.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
