package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// unlockLua deletes the lock only while it still holds our token, so an
// expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// lockPollInterval is how often a waiting Acquire retries SETNX.
const lockPollInterval = 50 * time.Millisecond

// LockManager implements domain.LockManager with SETNX plus a token-checked
// Lua unlock. The settlement executor uses it to serialise score writes per
// player.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	wait     time.Duration
}

// NewLockManager creates a LockManager. Acquire keeps retrying a held lock
// for up to wait before giving up with domain.ErrLockHeld; zero means a
// single attempt.
func NewLockManager(c *Client, wait time.Duration) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		wait:     wait,
	}
}

func lockKey(key string) string {
	return "btcguess:lock:" + key
}

// Acquire takes the lock for key. The returned unlock func is idempotent and
// runs on a fresh context so it works after the caller's context ends.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)
	deadline := time.Now().Add(lm.wait)

	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, domain.ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
