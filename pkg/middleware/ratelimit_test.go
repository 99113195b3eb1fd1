package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterd/rosterd/pkg/config"
	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/observability"
)

func TestLocalLimiterConsumesBudget(t *testing.T) {
	limiter := NewLocalLimiter(config.RateWindow{Requests: 3, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user:9")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "user:9")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLocalLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLocalLimiter(config.RateWindow{Requests: 1, Window: time.Hour})
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "user:9")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "user:9")
	assert.False(t, allowed)

	allowed, _ = limiter.Allow(ctx, "user:10")
	assert.True(t, allowed)
}

func TestLocalLimiterRefills(t *testing.T) {
	limiter := NewLocalLimiter(config.RateWindow{Requests: 2, Window: 100 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow(ctx, "user:9")
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow(ctx, "user:9")
	require.False(t, allowed)

	time.Sleep(150 * time.Millisecond)

	allowed, _ = limiter.Allow(ctx, "user:9")
	assert.True(t, allowed)
}

type stubLimiter struct {
	allowed bool
	err     error
	lastKey string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.lastKey = key
	return s.allowed, s.err
}

func rateLimited(limiter Limiter, metrics *observability.Metrics) http.Handler {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimit(limiter, "roles", metrics, logger)(next)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows within budget", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		rec := httptest.NewRecorder()
		rateLimited(limiter, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects over budget and counts it", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		limiter := &stubLimiter{allowed: false}
		rec := httptest.NewRecorder()
		rateLimited(limiter, metrics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "rate limit exceeded")
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitRejectsTotal.WithLabelValues("roles")))
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		limiter := &stubLimiter{allowed: false, err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		rateLimited(limiter, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("keys authenticated requests by user", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req = req.WithContext(contextkeys.WithUserID(req.Context(), 9))
		rateLimited(limiter, nil).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "roles:user:9", limiter.lastKey)
	})

	t.Run("keys anonymous requests by client ip", func(t *testing.T) {
		limiter := &stubLimiter{allowed: true}
		req := httptest.NewRequest(http.MethodGet, "/roles", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		rateLimited(limiter, nil).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "roles:ip:203.0.113.7", limiter.lastKey)
	})
}

func TestLimitKeyMalformedRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "ip:not-a-hostport", limitKey(req))
}
