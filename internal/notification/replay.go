package notification

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayStore remembers notifications that were already fully processed.
type ReplayStore interface {
	Seen(ctx context.Context, key string) (string, bool, error)
	Mark(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisReplay keeps replay markers in Redis under a key prefix.
type RedisReplay struct {
	R      *redis.Client
	Prefix string
}

func (s RedisReplay) key(k string) string {
	if s.Prefix == "" {
		return "wh:" + k
	}
	return s.Prefix + k
}

// Seen returns the stored value for key when present.
func (s RedisReplay) Seen(ctx context.Context, key string) (string, bool, error) {
	if s.R == nil {
		return "", false, nil
	}
	v, err := s.R.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Mark records key only if it is not already set.
func (s RedisReplay) Mark(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.R == nil {
		return nil
	}
	return s.R.SetNX(ctx, s.key(key), value, ttl).Err()
}
