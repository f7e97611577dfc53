package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// slidingWindowLua counts requests in a sorted set scored by arrival time.
// KEYS[1] = bucket, ARGV = now (µs), window (µs), limit, member.
// Returns {allowed, count}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
    return {0, count}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, count + 1}
`

// RateLimiter implements domain.RateLimiter with a sliding window per key.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), script: redis.NewScript(slidingWindowLua)}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow counts a request for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		now, window.Microseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
