package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

const stateKey = "state:dashboard"

// StateCache implements domain.StateCache with a single JSON document so a
// restarted or read-only replica can serve the last snapshot immediately.
type StateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStateCache creates a StateCache backed by the given Client.
func NewStateCache(c *Client) *StateCache {
	return &StateCache{rdb: c.Underlying(), ttl: c.cacheTTL}
}

// SetState replaces the cached snapshot.
func (sc *StateCache) SetState(ctx context.Context, st domain.DashboardState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: marshal state: %w", err)
	}
	if err := sc.rdb.Set(ctx, stateKey, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set state: %w", err)
	}
	return nil
}

// GetState returns the cached snapshot or domain.ErrNotFound.
func (sc *StateCache) GetState(ctx context.Context) (domain.DashboardState, error) {
	data, err := sc.rdb.Get(ctx, stateKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DashboardState{}, domain.ErrNotFound
		}
		return domain.DashboardState{}, fmt.Errorf("redis: get state: %w", err)
	}
	var st domain.DashboardState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.DashboardState{}, fmt.Errorf("redis: unmarshal state: %w", err)
	}
	return st, nil
}

var _ domain.StateCache = (*StateCache)(nil)
