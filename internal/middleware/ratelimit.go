// Package middleware provides gin middleware shared across CoSim's REST
// API: sliding-window rate limiting, request body size limits, and
// admission quota checks — adapted from the teacher's
// api/internal/middleware package.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultWindow     = time.Minute
	defaultMaxAttempts = 120
	cleanupInterval   = 5 * time.Minute
)

// RateLimiter is a sliding-window limiter keyed by an arbitrary identity
// string (IP, user ID, or org ID), mirroring the teacher's
// middleware/ratelimit.go.
type RateLimiter struct {
	mu          sync.RWMutex
	attempts    map[string][]time.Time
	window      time.Duration
	maxAttempts int
}

var (
	limiterOnce sync.Once
	limiter     *RateLimiter
)

// GetRateLimiter returns the process-wide RateLimiter singleton, starting
// its background cleanup goroutine on first use.
func GetRateLimiter() *RateLimiter {
	limiterOnce.Do(func() {
		limiter = NewRateLimiter(defaultWindow, defaultMaxAttempts)
		go limiter.cleanup()
	})
	return limiter
}

// NewRateLimiter constructs a limiter with an explicit window and cap,
// primarily for tests that want tighter bounds than the singleton's default.
func NewRateLimiter(window time.Duration, maxAttempts int) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string][]time.Time),
		window:      window,
		maxAttempts: maxAttempts,
	}
}

// CheckLimit records an attempt for identity and reports whether it is still
// within the window's cap.
func (r *RateLimiter) CheckLimit(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	attempts := r.attempts[identity]
	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.maxAttempts {
		r.attempts[identity] = kept
		return false
	}

	r.attempts[identity] = append(kept, now)
	return true
}

// ResetLimit clears an identity's recorded attempts.
func (r *RateLimiter) ResetLimit(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, identity)
}

// GetAttempts returns the count of attempts currently within the window.
func (r *RateLimiter) GetAttempts(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.attempts[identity] {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		cutoff := time.Now().Add(-r.window)
		for identity, attempts := range r.attempts {
			kept := attempts[:0]
			for _, t := range attempts {
				if t.After(cutoff) {
					kept = append(kept, t)
				}
			}
			if len(kept) == 0 {
				delete(r.attempts, identity)
			} else {
				r.attempts[identity] = kept
			}
		}
		r.mu.Unlock()
	}
}

// RateLimit returns a gin handler enforcing the given RateLimiter, keyed by
// client IP.
func RateLimit(r *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.CheckLimit(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
