package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// MarketCache implements domain.MarketCache. Each market is a JSON string
// keyed by chain and id, and every chain keeps a set of its cached ids so a
// whole chain can be dropped at once.
//
// Key schema:
//
//	market:{chainID}:{id}  - JSON-encoded domain.Market
//	markets:{chainID}      - set of cached market ids
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), ttl: c.cacheTTL}
}

func marketKey(chainID, id uint64) string {
	return "market:" + strconv.FormatUint(chainID, 10) + ":" + strconv.FormatUint(id, 10)
}

func chainMarketsKey(chainID uint64) string {
	return "markets:" + strconv.FormatUint(chainID, 10)
}

// Set stores the last good read of a market.
func (mc *MarketCache) Set(ctx context.Context, chainID uint64, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", m.ID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Set(ctx, marketKey(chainID, m.ID), data, mc.ttl)
	pipe.SAdd(ctx, chainMarketsKey(chainID), m.ID)
	pipe.Expire(ctx, chainMarketsKey(chainID), mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %d: %w", m.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, chainID, id uint64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(chainID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return m, nil
}

// Invalidate drops one cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, chainID, id uint64) error {
	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(chainID, id))
	pipe.SRem(ctx, chainMarketsKey(chainID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
