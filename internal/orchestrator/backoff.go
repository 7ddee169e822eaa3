package orchestrator

import (
	"math"
	"math/rand"
	"time"
)

// Allocator retry schedule, spec §4.5 admission step 4: capped exponential
// backoff with jitter, up to maxAllocateAttempts tries before the session
// transitions to Failed.
const (
	backoffBase         = 500 * time.Millisecond
	backoffFactor        = 2.0
	backoffCap          = 15 * time.Second
	backoffJitterFrac   = 0.20
	maxAllocateAttempts = 5
)

// nextBackoff returns the delay before allocation attempt+1, given that
// attempt (1-indexed) just failed: base*factor^(attempt-1), capped, with
// +/-20% jitter applied on top.
func nextBackoff(attempt int) time.Duration {
	delay := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt-1))
	if delay > float64(backoffCap) {
		delay = float64(backoffCap)
	}
	jitter := delay * backoffJitterFrac
	delay += (rand.Float64()*2 - 1) * jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
