package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// releaseLua deletes the lock only while it still carries the holder's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked release. The signer uses it so replicas sharing a key never
// race for the same nonce.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
	logger  *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		logger:  logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl or returns domain.ErrLockHeld. The returned
// unlock func is idempotent and does not depend on ctx.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(rctx, lm.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", lk), slog.String("error", err.Error()))
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
