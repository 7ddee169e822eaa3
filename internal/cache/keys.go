// Package cache wraps Redis for ephemeral control-plane state: idle
// heartbeats, room presence, and rate-limit counters. Key construction
// follows the teacher's cache/keys.go prefix-plus-helper-function pattern.
package cache

import "fmt"

const (
	PrefixSession   = "cosim:session"
	PrefixHeartbeat = "cosim:heartbeat"
	PrefixRoom      = "cosim:room"
	PrefixQuota     = "cosim:quota"
	PrefixRateLimit = "cosim:ratelimit"
	PrefixIdempotent = "cosim:idemp"
)

// SessionKey returns the cache key for a Session's ephemeral state.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", PrefixSession, sessionID)
}

// HeartbeatKey returns the cache key for a pod's last-seen heartbeat
// timestamp, consulted by the Orchestrator's health-probe sweep.
func HeartbeatKey(podID string) string {
	return fmt.Sprintf("%s:%s", PrefixHeartbeat, podID)
}

// RoomPresenceKey returns the cache key for a Room's participant set.
func RoomPresenceKey(roomID string) string {
	return fmt.Sprintf("%s:%s:presence", PrefixRoom, roomID)
}

// QuotaCacheKey returns the cache key for an org's hot-path quota snapshot,
// used to avoid a Postgres round trip on every admission check.
func QuotaCacheKey(orgID string) string {
	return fmt.Sprintf("%s:%s", PrefixQuota, orgID)
}

// RateLimitKey returns the cache key for a sliding-window rate-limit bucket.
func RateLimitKey(scope, identity string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixRateLimit, scope, identity)
}

// IdempotencyKey returns the cache key guarding against reprocessing a
// redelivered ControlCommand, spec §4.3/§8.
func IdempotencyKey(sessionID, key string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixIdempotent, sessionID, key)
}
