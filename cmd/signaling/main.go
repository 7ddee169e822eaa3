// Command signaling runs the Media Signaling Plane (spec §4.4): the
// WebSocket endpoint viewers and the Simulation Agent connect to for a
// Session's Room, relaying offer/answer/ICE messages and frame broadcast.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/signaling"
)

func main() {
	cfg := config.FromEnv()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty, "signaling")

	manager := signaling.NewManager(cfg.SignalingRoomGrace)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/v1/sessions/:id/signal", func(c *gin.Context) { handleSignal(c, manager) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := envOrDefault("COSIM_LISTEN_ADDR", ":8081")
	go func() {
		logger.Signaling().Info().Str("addr", addr).Msg("starting signaling plane")
		if err := r.Run(addr); err != nil {
			logger.Signaling().Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
}

func handleSignal(c *gin.Context, manager *signaling.Manager) {
	sessionID := c.Param("id")
	role := models.RoleViewer
	if c.Query("role") == "broadcaster" {
		role = models.RoleBroadcaster
	}

	conn, err := manager.Upgrade(c.Writer, c.Request)
	if err != nil {
		logger.Signaling().Error().Err(err).Msg("websocket upgrade")
		return
	}

	room := manager.RoomFor(sessionID, 0)
	client := &signaling.Client{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		UserID:   c.Query("user_id"),
		Role:     role,
		Conn:     conn,
		Send:     make(chan []byte, 64),
		Room:     room,
		JoinedAt: time.Now(),
	}

	if err := room.Register(client); err != nil {
		rejectJoin(conn, err)
		conn.Close()
		return
	}

	go signaling.WritePump(client)

	// Spec §4.4: "on connect, a participant receives a welcome with its
	// transport identifier, then joins a named room and receives the current
	// participant list."
	sendJSON(client, gin.H{"type": "welcome", "transport_id": client.ID})
	sendJSON(client, gin.H{"type": "participants", "participants": room.Participants()})

	signaling.ReadPump(client, func(c *signaling.Client, data []byte) {
		var msg models.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Signaling().Error().Err(err).Msg("decode signal message")
			return
		}
		msg.RoomID = c.Room.ID
		msg.FromID = c.ID
		msg.SentAt = time.Now()

		if msg.ToID == "" {
			logger.Signaling().Warn().Str("from_id", c.ID).Msg("signal message missing target id, dropping")
			return
		}
		relayed, err := json.Marshal(msg)
		if err != nil {
			return
		}
		c.Room.SendTo(msg.ToID, relayed)
	})
}

// rejectJoin writes a BroadcasterPresent error frame to a connection whose
// Room.Register call failed, before the pumps ever start (spec §4.4 "a
// second broadcaster join request fails with BroadcasterPresent").
func rejectJoin(conn *websocket.Conn, err error) {
	body, marshalErr := json.Marshal(gin.H{"type": "error", "reason": "BroadcasterPresent", "message": err.Error()})
	if marshalErr != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(websocket.TextMessage, body)
}

func sendJSON(c *signaling.Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		logger.Signaling().Warn().Str("client_id", c.ID).Msg("send buffer full, dropping connect message")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
