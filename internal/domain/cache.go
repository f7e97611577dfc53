package domain

import (
	"context"
	"time"
)

// MarketCache holds the last good read of each market per chain.
type MarketCache interface {
	Set(ctx context.Context, chainID uint64, market Market) error
	Get(ctx context.Context, chainID, id uint64) (Market, error)
	Invalidate(ctx context.Context, chainID, id uint64) error
}

// StateCache holds the last published dashboard snapshot.
type StateCache interface {
	SetState(ctx context.Context, state DashboardState) error
	GetState(ctx context.Context) (DashboardState, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
