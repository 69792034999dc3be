package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/shineum/mail-gateway/internal/email"
)

const (
	// limiterIdleTTL is how long an unused client limiter is kept.
	limiterIdleTTL = 10 * time.Minute
	// limiterCleanupInterval is how often idle limiters are evicted.
	limiterCleanupInterval = 5 * time.Minute
)

// RateLimiter allows each client a fixed number of requests per window,
// refilled continuously.
type RateLimiter struct {
	// limiters stores one *limiterEntry per client key
	limiters sync.Map
	requests int
	window   time.Duration
	limit    rate.Limit
}

// limiterEntry holds a rate limiter and its last access time in unix nanos.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

// NewRateLimiter creates a limiter admitting requests per window for each
// client. A non-positive requests or window disables limiting.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{requests: requests, window: window, limit: rate.Inf}
	if requests > 0 && window > 0 {
		rl.limit = rate.Every(window / time.Duration(requests))
	}
	return rl
}

// Run evicts idle client limiters until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// evict removes limiters not used since now minus limiterIdleTTL.
func (rl *RateLimiter) evict(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	rl.limiters.Range(func(key, value any) bool {
		if entry, ok := value.(*limiterEntry); ok && entry.lastAccess.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Allow reports whether the client identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// getLimiter returns the rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now().UnixNano()
	if val, ok := rl.limiters.Load(key); ok {
		entry := val.(*limiterEntry)
		entry.lastAccess.Store(now)
		return entry.limiter
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(rl.limit, max(rl.requests, 1))}
	entry.lastAccess.Store(now)

	// Another goroutine may have stored one first.
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry).limiter
}

// Middleware rejects clients over their allowance with 429.
func (rl *RateLimiter) Middleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = "unknown"
		}

		if !rl.Allow(clientIP) {
			logger.WarnContext(c.Request.Context(), "rate limit exceeded",
				"client_ip", clientIP,
				"path", c.Request.URL.Path,
			)
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", rl.retryAfterSeconds()))
			abortWith(c, http.StatusTooManyRequests, email.KindRateLimited, msgRateLimited)
			return
		}

		if rl.requests > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		}
		c.Next()
	}
}

// retryAfterSeconds is the time for one request's worth of tokens to refill.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.requests <= 0 || rl.window <= 0 {
		return 1
	}
	secs := int((rl.window / time.Duration(rl.requests)).Seconds())
	return max(secs, 1)
}
