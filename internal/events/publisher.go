package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
)

// Config holds NATS connection settings.
type Config struct {
	URL      string
	User     string
	Password string
}

// Publisher publishes control-plane events onto durable JetStream streams.
// When NATS is unreachable at startup it degrades to a no-op publisher
// rather than failing the process, matching the teacher's events.Publisher.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	enabled bool
}

// NewPublisher connects to NATS and provisions the JetStream streams this
// event bus depends on.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{nats.Name("cosim")}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Events().Warn().Err(err).Msg("nats unavailable, publisher degraded to no-op")
		return &Publisher{enabled: false}, nil
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	p := &Publisher{conn: conn, js: js, enabled: true}
	if err := p.createStreams(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) createStreams() error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{StreamSessions, []string{"cosim.session.>"}},
		{StreamPods, []string{"cosim.pod.>"}},
		{StreamAgents, []string{"cosim.agent.>"}},
	}

	for _, s := range streams {
		_, err := p.js.AddStream(&nats.StreamConfig{
			Name:      s.name,
			Subjects:  s.subjects,
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		})
		if err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return fmt.Errorf("create stream %s: %w", s.name, err)
		}
	}
	return nil
}

// Publish sends a JSON payload to a subject via JetStream, no-op if the
// publisher is degraded.
func (p *Publisher) Publish(subject string, payload any) error {
	if !p.enabled {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection without draining it.
func (p *Publisher) Close() {
	if p.enabled {
		p.conn.Close()
	}
}

// PublishSessionCreate announces a newly admitted Session to allocators.
func (p *Publisher) PublishSessionCreate(s *models.Session) error {
	return p.Publish(SubjectSessionCreate, s)
}

// PublishSessionTerminate announces a Session teardown request.
func (p *Publisher) PublishSessionTerminate(sessionID, reason string) error {
	return p.Publish(SubjectSessionTerminate, map[string]string{
		"session_id": sessionID,
		"reason":     reason,
	})
}

// PublishControlCommand forwards a ControlCommand to the bound Simulation
// Agent, auto-filling IdempotencyKey when the caller left it blank.
func (p *Publisher) PublishControlCommand(cmd *models.ControlCommand) error {
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}
	return p.Publish(SubjectSessionControl, cmd)
}

// PublishPodAllocate requests a node-pool allocator provision a pod for a
// Session, routed to the Docker or Kubernetes backend by NodePool/Backend.
func (p *Publisher) PublishPodAllocate(sessionID, backend, nodePool string, res models.Resources, generation int) error {
	return p.Publish(SubjectPodAllocate, map[string]any{
		"session_id": sessionID,
		"backend":    backend,
		"node_pool":  nodePool,
		"resources":  res,
		"generation": generation,
	})
}

// PublishPodDeallocate requests a node-pool allocator tear down a pod.
func (p *Publisher) PublishPodDeallocate(podID string) error {
	return p.Publish(SubjectPodDeallocate, map[string]string{"pod_id": podID})
}
