package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medrex/consent-ledger/pkg/types"
)

const kindRateLimited types.ErrorKind = "RATE_LIMITED"

// RateLimiter is a per-caller token bucket
type RateLimiter struct {
	buckets    map[string]*tokenBucket
	bucketsMux sync.RWMutex
	limit      int
	period     time.Duration
	now        types.Clock
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
	mutex      sync.Mutex
}

// NewRateLimiter allows limit requests per period for each caller
func NewRateLimiter(limit int, period time.Duration, clock types.Clock) *RateLimiter {
	if clock == nil {
		clock = types.SystemClock
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   limit,
		period:  period,
		now:     clock,
	}
}

// Allow takes a token from key's bucket
func (rl *RateLimiter) Allow(key string) bool {
	bucket := rl.getBucket(key)

	bucket.mutex.Lock()
	defer bucket.mutex.Unlock()

	now := rl.now()
	elapsed := now.Sub(bucket.lastRefill)
	if elapsed >= rl.period {
		bucket.tokens = rl.limit
		bucket.lastRefill = now
	} else if refill := int(elapsed.Nanoseconds() * int64(rl.limit) / rl.period.Nanoseconds()); refill > 0 {
		bucket.tokens = min(bucket.tokens+refill, rl.limit)
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens left for key without consuming one
func (rl *RateLimiter) Remaining(key string) int {
	bucket := rl.getBucket(key)
	bucket.mutex.Lock()
	defer bucket.mutex.Unlock()
	return bucket.tokens
}

func (rl *RateLimiter) getBucket(key string) *tokenBucket {
	rl.bucketsMux.RLock()
	bucket, exists := rl.buckets[key]
	rl.bucketsMux.RUnlock()
	if exists {
		return bucket
	}

	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}
	bucket = &tokenBucket{tokens: rl.limit, lastRefill: rl.now()}
	rl.buckets[key] = bucket
	return bucket
}

// cleanup drops buckets idle for longer than maxIdle
func (rl *RateLimiter) cleanup(maxIdle time.Duration) int {
	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
		bucket.mutex.Unlock()
	}
	return removed
}

// Run prunes idle buckets every interval until ctx is cancelled
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(interval)
		}
	}
}

// RateLimitMiddleware limits callers by token subject, or client IP when
// token auth is off
func (h *Handlers) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil {
			c.Next()
			return
		}

		key := c.GetString(actorContextKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !h.limiter.Allow(key) {
			h.logger.Security("rate_limited", key, map[string]interface{}{"path": c.FullPath()})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   kindRateLimited,
				Message: "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
