package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stays held past the acquire timeout.
var ErrNotAcquired = errors.New("lock: not acquired")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker is a Redis-backed mutual exclusion used to serialise payment captures
// across API and worker processes.
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
	// AcquireTimeout bounds the wait for a held lock; zero waits until ctx is done.
	AcquireTimeout time.Duration
}

// WithLock runs fn while holding the lock for key. The lock is released after
// fn returns, whatever its result, and expires after ttl if the holder dies.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	full := l.Prefix + key
	token := uuid.NewString()

	waitCtx := ctx
	if l.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.AcquireTimeout)
		defer cancel()
	}

	for {
		ok, err := l.R.SetNX(waitCtx, full, token, ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%w: %s", ErrNotAcquired, full)
			}
			return err
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), full, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrNotAcquired, full)
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		// fall back to a plain delete only while we still own the key
		if v, getErr := l.R.Get(ctx, key).Result(); getErr == nil && v == token {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
