package middleware

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/rosterd/rosterd/pkg/config"
)

// RedisLimiter is a Redis-backed fixed-window limiter shared across
// instances. The first hit in a window creates the counter and sets its
// expiry; the window never slides.
type RedisLimiter struct {
	redis  *goredis.Client
	window config.RateWindow
	prefix string
}

// NewRedisLimiter creates a distributed limiter for one rate window.
func NewRedisLimiter(client *goredis.Client, window config.RateWindow, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{redis: client, window: window, prefix: prefix}
}

// Allow increments the key's window counter and checks it against the limit.
// Redis failures surface as errors so the middleware can fail open.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis rate limit failed: %w", err)
	}

	return incr.Val() <= int64(l.window.Requests), nil
}

// Remaining returns how many requests are left in the current window.
func (l *RedisLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.redis.Get(ctx, redisKey).Int()
	if err == goredis.Nil {
		return l.window.Requests, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis rate limit lookup failed: %w", err)
	}

	remaining := l.window.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for a key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// NewLimiter picks the distributed limiter when Redis is configured and the
// in-process one otherwise.
func NewLimiter(client *goredis.Client, window config.RateWindow, prefix string) Limiter {
	if client != nil {
		return NewRedisLimiter(client, window, prefix)
	}
	return NewLocalLimiter(window)
}
