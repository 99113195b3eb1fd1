package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rosterd/rosterd/pkg/config"
	"github.com/rosterd/rosterd/pkg/contextkeys"
	"github.com/rosterd/rosterd/pkg/httputil"
	"github.com/rosterd/rosterd/pkg/observability"
)

// Limiter answers whether one more request is allowed for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const localLimiterSize = 16384

// LocalLimiter is a per-process token bucket limiter. Buckets live in a
// bounded LRU so hostile key churn cannot grow memory without limit.
type LocalLimiter struct {
	window  config.RateWindow
	buckets *lru.Cache[string, *bucket]
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewLocalLimiter creates an in-memory limiter for one rate window.
func NewLocalLimiter(window config.RateWindow) *LocalLimiter {
	cache, _ := lru.New[string, *bucket](localLimiterSize)
	return &LocalLimiter{window: window, buckets: cache}
}

// Allow consumes one token for the key. It never returns an error.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: float64(l.window.Requests), lastRefill: time.Now()}
		if existing, found, _ := l.buckets.PeekOrAdd(key, b); found {
			b = existing
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refill := now.Sub(b.lastRefill).Seconds() * float64(l.window.Requests) / l.window.Window.Seconds()
	if refill > 0 {
		b.tokens += refill
		if b.tokens > float64(l.window.Requests) {
			b.tokens = float64(l.window.Requests)
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// RateLimit gates a route group on the limiter. Authenticated requests are
// keyed by user, anonymous ones by client IP. Limiter errors fail open: a
// degraded limiter store must not take the API down with it.
func RateLimit(limiter Limiter, group string, metrics *observability.Metrics, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := group + ":" + limitKey(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if metrics != nil {
					metrics.RateLimitRejectsTotal.WithLabelValues(group).Inc()
				}
				httputil.WriteTooManyRequests(w, "rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func limitKey(r *http.Request) string {
	if userID := contextkeys.GetUserID(r.Context()); userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
