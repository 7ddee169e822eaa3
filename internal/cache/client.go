package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cosimio/cosim/internal/logger"
)

// Client wraps a Redis connection with the operations the control plane
// needs: heartbeat freshness checks, idempotency-key deduplication, and room
// presence tracking.
type Client struct {
	rdb *redis.Client
}

// New dials Redis and verifies connectivity.
func New(addr string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.DB().Info().Str("addr", addr).Msg("connected to redis")
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Heartbeat records a pod's liveness ping with a TTL; IsAlive reports
// whether the key is still present.
func (c *Client) Heartbeat(ctx context.Context, podID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, HeartbeatKey(podID), time.Now().Unix(), ttl).Err()
}

// IsAlive reports whether a pod's heartbeat key is still present.
func (c *Client) IsAlive(ctx context.Context, podID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, HeartbeatKey(podID)).Result()
	if err != nil {
		return false, fmt.Errorf("check heartbeat: %w", err)
	}
	return n > 0, nil
}

// ClaimIdempotencyKey atomically claims a (session, key) pair, returning
// false if it was already claimed within the window — the dedup mechanism
// backing the at-least-once delivery idempotence laws (spec §8).
func (c *Client) ClaimIdempotencyKey(ctx context.Context, sessionID, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, IdempotencyKey(sessionID, key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// AddRoomParticipant adds a participant ID to a Room's presence set.
func (c *Client) AddRoomParticipant(ctx context.Context, roomID, participantID string) error {
	return c.rdb.SAdd(ctx, RoomPresenceKey(roomID), participantID).Err()
}

// RemoveRoomParticipant removes a participant ID from a Room's presence set.
func (c *Client) RemoveRoomParticipant(ctx context.Context, roomID, participantID string) error {
	return c.rdb.SRem(ctx, RoomPresenceKey(roomID), participantID).Err()
}

// RoomParticipantCount returns the number of participants currently present.
func (c *Client) RoomParticipantCount(ctx context.Context, roomID string) (int64, error) {
	n, err := c.rdb.SCard(ctx, RoomPresenceKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count room participants: %w", err)
	}
	return n, nil
}
