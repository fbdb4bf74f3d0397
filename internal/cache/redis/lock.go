package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// releaseLua deletes the lock key only when it still holds the caller's
// token. Without the token check, a holder whose TTL already expired could
// release the lock a second instance has since acquired.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the unlock round trip once the caller's own context
// is gone.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager on SETNX with a TTL. The scan
// and settlement cycles take this lock so that two bot instances sharing one
// position ledger never evaluate or settle concurrently.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the named lock for at most ttl and returns the release
// function. Releasing twice is a no-op. When another instance holds the
// lock, Acquire returns domain.ErrLockHeld and the caller skips its cycle.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	redisKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context is typically cancelled by the time deferred
		// unlocks run, so release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = lm.release.Run(rctx, lm.rdb, []string{redisKey}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
