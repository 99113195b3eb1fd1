package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterd/rosterd/pkg/config"
)

func newTestRedisLimiter(t *testing.T, window config.RateWindow) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, window, "test"), mr
}

func TestRedisLimiterAllowWithinLimit(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, config.RateWindow{Requests: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, config.RateWindow{Requests: 1, Window: time.Minute})
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiterWindowExpires(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, config.RateWindow{Requests: 1, Window: time.Minute})
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiterRemaining(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, config.RateWindow{Requests: 5, Window: time.Minute})
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
	}

	remaining, err = limiter.Remaining(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	for i := 0; i < 10; i++ {
		_, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
	}

	remaining, err = limiter.Remaining(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestRedisLimiterReset(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, config.RateWindow{Requests: 1, Window: time.Minute})
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)

	allowed, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "user:1"))

	allowed, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := NewRedisLimiter(client, config.RateWindow{Requests: 1, Window: time.Minute}, "test")

	mr.Close()

	allowed, err := limiter.Allow(context.Background(), "user:1")
	assert.True(t, allowed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis rate limit failed")
}

func TestRedisLimiterDefaultPrefix(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, config.RateWindow{Requests: 1, Window: time.Minute})

	_, err := limiter.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:user:1"))

	unprefixed := NewRedisLimiter(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), config.RateWindow{Requests: 1, Window: time.Minute}, "")
	_, err = unprefixed.Allow(context.Background(), "user:2")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ratelimit:user:2"))
}

func TestNewLimiterPicksBackend(t *testing.T) {
	window := config.RateWindow{Requests: 1, Window: time.Minute}

	local := NewLimiter(nil, window, "")
	_, ok := local.(*LocalLimiter)
	assert.True(t, ok)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	distributed := NewLimiter(client, window, "api")
	_, ok = distributed.(*RedisLimiter)
	assert.True(t, ok)
}
