package signaling

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cosimio/cosim/internal/logger"
)

// Manager owns all active Rooms, keyed by Session ID, and performs the
// WebSocket upgrade with the same origin-checking posture as the teacher's
// handlers/websocket_enterprise.go upgrader.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	roomGrace time.Duration
	upgrader  websocket.Upgrader
}

// NewManager constructs a Manager; roomGrace is how long an emptied Room
// stays alive before teardown (spec §6 SIGNALING_ROOM_GRACE_MS).
func NewManager(roomGrace time.Duration) *Manager {
	m := &Manager{
		rooms:     make(map[string]*Room),
		roomGrace: roomGrace,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     m.checkOrigin,
	}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := []string{
		os.Getenv("ALLOWED_WEBSOCKET_ORIGIN_1"),
		os.Getenv("ALLOWED_WEBSOCKET_ORIGIN_2"),
		os.Getenv("ALLOWED_WEBSOCKET_ORIGIN_3"),
	}
	for _, a := range allowed {
		if a != "" && strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// RoomFor returns the Room for a Session, creating it (at the given
// generation) if it does not yet exist.
func (m *Manager) RoomFor(sessionID string, generation int) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[sessionID]; ok {
		return r
	}
	r := NewRoom(fmt.Sprintf("room-%s", sessionID), sessionID, generation, m.roomGrace, m.teardown)
	m.rooms[sessionID] = r
	return r
}

func (m *Manager) teardown(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rooms {
		if r.ID == roomID && r.ParticipantCount() == 0 {
			delete(m.rooms, id)
			logger.Signaling().Info().Str("room_id", roomID).Msg("room torn down after grace period")
			return
		}
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return conn, nil
}

// ReadPump hands each inbound signaling message from a Client's connection
// to onMessage until the connection closes, matching the
// teacher's readPump keepalive handling.
func ReadPump(c *Client, onMessage func(*Client, []byte)) {
	defer c.Room.Unregister(c)

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(c, data)
	}
}

// WritePump drains a Client's Send channel to its connection, interleaving
// ping keepalives, matching the teacher's writePump.
func WritePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
