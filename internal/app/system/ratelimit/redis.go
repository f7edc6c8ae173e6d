package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared across instances.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
}

// NewRedis returns a limiter storing counters under prefix in rdb.
func NewRedis(rdb redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: "volunteerhub:rl:"}
}

// Allow increments the key's counter and starts its window on first use.
// A limited key that somehow lost its expiry gets one again, so it cannot
// stay blocked. Redis errors are returned so callers can surface
// ExternalUnavailable.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key

	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return false, err
		}
		return n <= l.limit, nil
	}
	if n > l.limit {
		ttl, err := l.rdb.TTL(ctx, k).Result()
		if err != nil {
			return false, err
		}
		if ttl == -1 {
			if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
				return false, err
			}
		}
	}
	return n <= l.limit, nil
}
