// Package notify pushes Session lifecycle events to subscribed UI clients
// over WebSocket, adapted from the teacher's
// api/internal/websocket/notifier.go Notifier.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cosimio/cosim/internal/models"
)

// Event is one lifecycle notification delivered to subscribed clients.
type Event struct {
	Type      models.AuditEventType `json:"type"`
	SessionID string                `json:"session_id"`
	UserID    string                `json:"user_id"`
	Timestamp time.Time             `json:"timestamp"`
	Data      map[string]any        `json:"data,omitempty"`
}

// Sink is implemented by whatever transport actually delivers a marshaled
// Event to one client (e.g. a signaling.Client's Send channel).
type Sink interface {
	Deliver(data []byte)
}

// Notifier fans out Session events to clients subscribed either by user ID
// or by session ID, mirroring the teacher's dual subscription maps.
type Notifier struct {
	mu                   sync.RWMutex
	userSubscriptions    map[string][]Sink
	sessionSubscriptions map[string][]Sink
}

// NewNotifier constructs an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		userSubscriptions:    make(map[string][]Sink),
		sessionSubscriptions: make(map[string][]Sink),
	}
}

// SubscribeUser registers sink to receive every event for userID.
func (n *Notifier) SubscribeUser(userID string, sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userSubscriptions[userID] = append(n.userSubscriptions[userID], sink)
}

// SubscribeSession registers sink to receive every event for sessionID.
func (n *Notifier) SubscribeSession(sessionID string, sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessionSubscriptions[sessionID] = append(n.sessionSubscriptions[sessionID], sink)
}

// UnsubscribeAll removes sink from every subscription list it appears in.
func (n *Notifier) UnsubscribeAll(sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, sinks := range n.userSubscriptions {
		n.userSubscriptions[k] = removeSink(sinks, sink)
	}
	for k, sinks := range n.sessionSubscriptions {
		n.sessionSubscriptions[k] = removeSink(sinks, sink)
	}
}

func removeSink(sinks []Sink, target Sink) []Sink {
	out := sinks[:0]
	for _, s := range sinks {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// NotifySessionEvent delivers ev to every subscriber of its Session and its
// UserID, marshaling once and fanning out to both subscription sets without
// duplicate delivery to a sink subscribed to both.
func (n *Notifier) NotifySessionEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	delivered := make(map[Sink]bool)
	for _, s := range n.sessionSubscriptions[ev.SessionID] {
		s.Deliver(data)
		delivered[s] = true
	}
	for _, s := range n.userSubscriptions[ev.UserID] {
		if !delivered[s] {
			s.Deliver(data)
		}
	}
	return nil
}

// NotifyStateChange is a convenience wrapper for the common
// session.state_change event.
func (n *Notifier) NotifyStateChange(sessionID, userID string, from, to models.SessionState) error {
	return n.NotifySessionEvent(Event{
		Type:      models.AuditSessionStateChange,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      map[string]any{"from": string(from), "to": string(to)},
	})
}

// NotifyTerminated is a convenience wrapper for session.terminated.
func (n *Notifier) NotifyTerminated(sessionID, userID, reason string) error {
	return n.NotifySessionEvent(Event{
		Type:      models.AuditSessionTerminated,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      map[string]any{"reason": reason},
	})
}
