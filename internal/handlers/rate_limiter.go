package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// tokenBucketLimiter keeps one token bucket per client key. Idle buckets are pruned after ttl.
type tokenBucketLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	clock func() time.Time
	mu    sync.Mutex
	store map[string]*rateEntry
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenBucketLimiter(perMinute int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenBucketLimiter{
		limit: rate.Limit(float64(perMinute) / 60),
		burst: perMinute,
		ttl:   3 * time.Minute,
		clock: clock,
		store: make(map[string]*rateEntry),
	}
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok {
		l.pruneExpiredLocked(now)
		entry = &rateEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *tokenBucketLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) > l.ttl {
			delete(l.store, key)
		}
	}
}

// RateLimitMiddleware rejects callers exceeding perMinute requests with 429. Authenticated
// callers are keyed by actor id, everyone else by client IP. A non-positive limit disables it.
func RateLimitMiddleware(perMinute int) func(http.Handler) http.Handler {
	return rateLimitMiddleware(newTokenBucketLimiter(perMinute, nil))
}

func rateLimitMiddleware(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(rateLimitKey(r)) {
				w.Header().Set("Retry-After", "60")
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if actor := auth.ActorID(r.Context()); actor != "" {
		return "actor:" + actor
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
