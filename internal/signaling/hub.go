// Package signaling implements the Media Signaling Plane (spec §4.4):
// per-Session Rooms relaying WebRTC offer/answer/ICE signaling and frame
// broadcast to viewers, enforcing at-most-one-broadcaster. The hub
// (register/unregister/broadcast channels, goroutine-per-connection pumps)
// is adapted from the teacher's handlers/websocket_enterprise.go
// WebSocketHub, and room bookkeeping from websocket/notifier.go's
// subscription maps.
package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
)

// ErrBroadcasterPresent is returned by Register when a Room already holds a
// broadcaster and a second broadcaster-role Client attempts to join (spec
// §4.4, §8 at-most-one-broadcaster invariant).
var ErrBroadcasterPresent = errors.New("signaling: broadcaster present")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one connected WebSocket participant in a Room.
type Client struct {
	ID       string
	RoomID   string
	UserID   string
	Role     models.ParticipantRole
	Conn     *websocket.Conn
	Send     chan []byte
	Room     *Room
	JoinedAt time.Time
}

// Room is a Session's broadcast domain: at most one Client may hold
// RoleBroadcaster at a time (spec §8 at-most-one-broadcaster invariant).
type Room struct {
	ID         string
	SessionID  string
	Generation int

	mu          sync.RWMutex
	clients     map[string]*Client
	broadcaster string // client ID currently holding RoleBroadcaster, empty if none

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	sendTo     chan targetedMessage

	createdAt time.Time
	graceTimer *time.Timer
	onEmpty    func(roomID string)
}

// NewRoom constructs an empty Room. onEmpty is invoked once the Room has had
// no participants for longer than grace (spec §6 SIGNALING_ROOM_GRACE_MS).
func NewRoom(id, sessionID string, generation int, grace time.Duration, onEmpty func(string)) *Room {
	r := &Room{
		ID:         id,
		SessionID:  sessionID,
		Generation: generation,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		sendTo:     make(chan targetedMessage, 256),
		createdAt:  time.Now(),
		onEmpty:    onEmpty,
	}
	go r.run(grace)
	return r
}

func (r *Room) run(grace time.Duration) {
	for {
		select {
		case c := <-r.register:
			r.mu.Lock()
			if r.graceTimer != nil {
				r.graceTimer.Stop()
				r.graceTimer = nil
			}
			r.clients[c.ID] = c
			r.mu.Unlock()

		case c := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.clients[c.ID]; ok {
				delete(r.clients, c.ID)
				close(c.Send)
				if r.broadcaster == c.ID {
					r.broadcaster = ""
				}
			}
			empty := len(r.clients) == 0
			if empty && r.onEmpty != nil {
				r.graceTimer = time.AfterFunc(grace, func() { r.onEmpty(r.ID) })
			}
			r.mu.Unlock()

		case msg := <-r.broadcast:
			r.mu.RLock()
			for _, c := range r.clients {
				select {
				case c.Send <- msg:
				default:
					logger.Signaling().Warn().Str("room_id", r.ID).Str("client_id", c.ID).Msg("slow client dropped from broadcast")
				}
			}
			r.mu.RUnlock()

		case tm := <-r.sendTo:
			r.mu.RLock()
			c, ok := r.clients[tm.targetID]
			r.mu.RUnlock()
			if !ok {
				logger.Signaling().Warn().Str("room_id", r.ID).Str("target_id", tm.targetID).Msg("signal target not in room, dropping")
				continue
			}
			select {
			case c.Send <- tm.data:
			default:
				logger.Signaling().Warn().Str("room_id", r.ID).Str("client_id", c.ID).Msg("slow client dropped from targeted send")
			}
		}
	}
}

// targetedMessage is a signaling message destined for exactly one
// participant, spec §4.4 "relayed verbatim to a targeted participant".
type targetedMessage struct {
	targetID string
	data     []byte
}

// Register admits a Client, claiming the broadcaster slot if it requests
// RoleBroadcaster and none is currently held. A second broadcaster-role join
// is rejected outright with ErrBroadcasterPresent (spec §4.4, §8
// at-most-one-broadcaster invariant) rather than silently demoted to viewer.
func (r *Room) Register(c *Client) error {
	r.mu.Lock()
	if c.Role == models.RoleBroadcaster && r.broadcaster != "" && r.broadcaster != c.ID {
		r.mu.Unlock()
		return ErrBroadcasterPresent
	}
	if c.Role == models.RoleBroadcaster {
		r.broadcaster = c.ID
	}
	r.mu.Unlock()
	r.register <- c
	return nil
}

// Participants lists the Room's currently connected clients, spec §4.4 "the
// current participant list" sent to a participant on join.
func (r *Room) Participants() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Participant, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, models.Participant{ID: c.ID, UserID: c.UserID, Role: c.Role, JoinedAt: c.JoinedAt})
	}
	return out
}

// Unregister removes a Client from the Room.
func (r *Room) Unregister(c *Client) { r.unregister <- c }

// Broadcast enqueues a message for delivery to all connected clients; used
// for frame payloads from the Simulation Agent and room-wide notices.
func (r *Room) Broadcast(msg []byte) { r.broadcast <- msg }

// SendTo enqueues a message for delivery to a single participant by ID,
// spec §4.4's targeted relay of offer/answer/ice-candidate/leave messages —
// unlike Broadcast this never reaches any other participant.
func (r *Room) SendTo(targetID string, msg []byte) { r.sendTo <- targetedMessage{targetID: targetID, data: msg} }

// ParticipantCount reports the number of currently connected clients.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// HasBroadcaster reports whether a broadcaster is currently registered.
func (r *Room) HasBroadcaster() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcaster != ""
}
