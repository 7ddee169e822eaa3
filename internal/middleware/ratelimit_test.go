package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToCap(t *testing.T) {
	r := NewRateLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, r.CheckLimit("user-a"), "attempt %d should be allowed", i+1)
	}
	assert.False(t, r.CheckLimit("user-a"), "fourth attempt should exceed the cap")
}

func TestRateLimiterTracksIdentitiesIndependently(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1)

	assert.True(t, r.CheckLimit("user-a"))
	assert.True(t, r.CheckLimit("user-b"), "a different identity should have its own bucket")
	assert.False(t, r.CheckLimit("user-a"))
}

func TestRateLimiterResetClearsAttempts(t *testing.T) {
	r := NewRateLimiter(time.Minute, 1)

	assert.True(t, r.CheckLimit("user-a"))
	assert.False(t, r.CheckLimit("user-a"))

	r.ResetLimit("user-a")
	assert.True(t, r.CheckLimit("user-a"))
}

func TestRateLimiterWindowExpires(t *testing.T) {
	r := NewRateLimiter(20*time.Millisecond, 1)

	assert.True(t, r.CheckLimit("user-a"))
	assert.False(t, r.CheckLimit("user-a"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, r.CheckLimit("user-a"), "attempt outside the window should be allowed again")
}
