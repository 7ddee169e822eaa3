package events

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
)

// Subscriber consumes status and acknowledgement events published by the
// Simulation Agent and node-pool allocators, updating Postgres directly,
// matching the teacher's events/subscriber.go.
type Subscriber struct {
	conn         *nats.Conn
	js           nats.JetStreamContext
	sessions     *db.SessionStore
	podHandles   *db.PodHandleStore
	enabled      bool
	consumerName string
}

// NewSubscriber wires a Subscriber to the database stores it updates.
func NewSubscriber(cfg Config, conn *sql.DB, consumerName string) (*Subscriber, error) {
	opts := []nats.Option{nats.Name("cosim-subscriber")}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Events().Warn().Err(err).Msg("nats unavailable, subscriber degraded to no-op")
		return &Subscriber{enabled: false}, nil
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Subscriber{
		conn:         nc,
		js:           js,
		sessions:     db.NewSessionStore(conn),
		podHandles:   db.NewPodHandleStore(conn),
		enabled:      true,
		consumerName: consumerName,
	}, nil
}

// Start subscribes to the session-status and pod-status subjects and blocks
// until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	if !s.enabled {
		<-ctx.Done()
		return nil
	}

	subs := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectSessionStatus, s.handleSessionStatus},
		{SubjectPodStatus, s.handlePodStatus},
	}

	var subscriptions []*nats.Subscription
	for _, sub := range subs {
		subscription, err := s.js.QueueSubscribe(sub.subject, s.consumerName, sub.handler, nats.ManualAck())
		if err != nil {
			return err
		}
		subscriptions = append(subscriptions, subscription)
	}

	<-ctx.Done()
	for _, sub := range subscriptions {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}

func (s *Subscriber) handleSessionStatus(msg *nats.Msg) {
	defer msg.Ack()

	var status struct {
		SessionID string               `json:"session_id"`
		State     models.SessionState  `json:"state"`
	}
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		logger.Events().Error().Err(err).Msg("decode session status")
		return
	}

	if err := s.sessions.TransitionState(context.Background(), status.SessionID, status.State); err != nil {
		logger.Events().Error().Err(err).Str("session_id", status.SessionID).Msg("apply session status")
	}
}

func (s *Subscriber) handlePodStatus(msg *nats.Msg) {
	defer msg.Ack()

	var status struct {
		PodID  string             `json:"pod_id"`
		Health models.PodHealth   `json:"health"`
	}
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		logger.Events().Error().Err(err).Msg("decode pod status")
		return
	}

	if err := s.podHandles.UpdateHealth(context.Background(), status.PodID, status.Health); err != nil {
		logger.Events().Error().Err(err).Str("pod_id", status.PodID).Msg("apply pod status")
	}
}
