// Command simagent runs the Simulation Agent (spec §4.3) for a single
// Session: it launches the bound engine subprocess, dispatches inbound
// ControlCommands over both its own REST surface and the event bus, and
// produces Frames at the configured frame rate. One process per active
// Session pod, matching how the teacher's agents/docker-agent and
// agents/k8s-agent run per-container.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/cosimio/cosim/internal/cache"
	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/engine"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/signaling"
	"github.com/cosimio/cosim/internal/simagent"
)

const (
	textMessage   = websocket.TextMessage
	binaryMessage = websocket.BinaryMessage
)

// websocketUpgrader builds a permissive upgrader for this pod's own
// stream/viewer endpoints — narrower-scoped than the shared cmd/signaling
// plane's origin-checked Manager, since these connections terminate inside
// the Session's own pod network.
func websocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func main() {
	cfg := config.FromEnv()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty, "simagent")

	sessionID := mustEnv("COSIM_SESSION_ID")
	generation := getEnvInt("COSIM_SESSION_GENERATION", 0)
	engineBinary := envOrDefault("COSIM_ENGINE_BINARY", "/opt/cosim/engine-launcher")
	sandboxLauncher := envOrDefault("COSIM_SANDBOX_LAUNCHER", "/opt/cosim/sandbox-launcher-python")
	frameHZ := getEnvFloat("COSIM_FRAME_HZ", 30)

	cacheClient, err := cache.New(cfg.RedisAddr)
	if err != nil {
		logger.Agent().Fatal().Err(err).Msg("connect redis")
	}
	defer cacheClient.Close()

	publisher, err := events.NewPublisher(events.Config{URL: cfg.NATSURL, User: cfg.NATSUser, Password: cfg.NATSPassword})
	if err != nil {
		logger.Agent().Fatal().Err(err).Msg("connect nats")
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := engine.New(engineBinary)
	defer adapter.Stop(cfg.SandboxGrace)

	// The Simulation Agent registers itself as this Session's sole frame
	// broadcaster in-process: a local Room (not the shared cmd/signaling
	// plane) receives every produced Frame via RoomFrameSink, and this pod's
	// own /v1/sessions/:id/viewers endpoint lets viewers join that same Room
	// directly, bypassing a network hop to relay binary frame payloads.
	room := signaling.NewRoom("room-"+sessionID, sessionID, generation, cfg.SignalingRoomGrace, func(string) {})
	sink := signaling.RoomFrameSink{Room: room}

	agent := simagent.New(sessionID, generation, adapter, sink, cacheClient)
	agent.ConfigureSandbox(sandboxLauncher, cfg.SandboxGrace, cfg.SandboxStdoutCap)

	go agent.ProduceFrames(ctx, time.Duration(float64(time.Second)/frameHZ))
	go consumeControlCommands(ctx, cfg, sessionID, agent)

	r := gin.New()
	r.Use(gin.Recovery())
	registerRoutes(r, agent, room)

	addr := envOrDefault("COSIM_LISTEN_ADDR", ":8090")
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Agent().Info().Str("addr", addr).Str("session_id", sessionID).Msg("starting simulation agent")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Agent().Error().Err(err).Msg("http server stopped")
		}
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			if err := agent.Heartbeat(ctx, os.Getenv("COSIM_POD_ID"), publisher, 30*time.Second); err != nil {
				logger.Agent().Error().Err(err).Msg("heartbeat")
			}
		}
	}
}

// registerRoutes wires the Simulation Agent's REST/WS surface, spec §6:
// create, control, state, delete (a status report only; see handleDelete),
// and the per-pod frame stream.
func registerRoutes(r *gin.Engine, agent *simagent.Agent, room *signaling.Room) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/v1/sessions/:id/simulations", func(c *gin.Context) { handleCreate(c, agent) })
	r.POST("/v1/sessions/:id/control", func(c *gin.Context) { handleControl(c, agent) })
	r.GET("/v1/sessions/:id/state", func(c *gin.Context) { handleState(c, agent) })
	r.DELETE("/v1/sessions/:id", func(c *gin.Context) { handleDelete(c, agent) })
	r.GET("/v1/sessions/:id/stream", func(c *gin.Context) { handleStream(c, agent) })
	r.GET("/v1/sessions/:id/viewers", func(c *gin.Context) { handleViewerJoin(c, room) })
}

type createRequest struct {
	Engine   models.EngineKind `json:"engine"`
	ModelRef string            `json:"model_ref"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	FPS      float64           `json:"fps"`
	Headless bool              `json:"headless"`
}

// handleCreate implements spec §4.3 CreateSimulation: 200 with the
// EngineInstance on a fresh or idempotent-matching create, 409 when the
// session already has a simulation with different parameters.
func handleCreate(c *gin.Context, agent *simagent.Agent) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instance, err := agent.CreateSimulation(c.Request.Context(), simagent.CreateParams{
		Engine: req.Engine, ModelRef: req.ModelRef,
		Width: req.Width, Height: req.Height, FPS: req.FPS, Headless: req.Headless,
	})
	if err != nil {
		if errors.Is(err, simagent.ErrAlreadyExistsDifferent) {
			c.JSON(http.StatusConflict, gin.H{"error": "AlreadyExistsDifferent"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": engine.KindOf(err), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, instance)
}

// handleControl implements spec §4.3 Control: the body is a tagged
// ControlCommand, with Execute/SetCamera payloads nested under "payload".
func handleControl(c *gin.Context, agent *simagent.Agent) {
	var cmd models.ControlCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd.SessionID = c.Param("id")
	cmd.IssuedAt = time.Now()

	ack, err := agent.HandleCommand(c.Request.Context(), &cmd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ack)
}

func handleState(c *gin.Context, agent *simagent.Agent) {
	state, err := agent.GetState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": string(engine.KindOf(err)), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleDelete reports the instance's faulted status and reason. It does not
// stop the producer loop or the engine subprocess.
func handleDelete(c *gin.Context, agent *simagent.Agent) {
	faulted, reason := agent.Faulted()
	c.JSON(http.StatusOK, gin.H{"faulted": faulted, "reason": reason})
}

// streamHeader is the first text frame per stream, spec §6 "the first frame
// on a new stream connection carries {generation, width, height, encoding}".
type streamHeader struct {
	Generation int                  `json:"generation"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Encoding   models.FrameEncoding `json:"encoding"`
}

var streamUpgrader = websocketUpgrader()

// handleStream implements spec §6's WS /simulations/{sid}/stream: the
// caller's own Frame subscription over Agent.Subscribe, independent of the
// Room's generic JSON broadcast used by handleViewerJoin.
func handleStream(c *gin.Context, agent *simagent.Agent) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Agent().Error().Err(err).Msg("stream websocket upgrade")
		return
	}
	defer conn.Close()

	frames, cancel := agent.Subscribe()
	defer cancel()

	headerSent := false
	for frame := range frames {
		if !headerSent {
			header := streamHeader{Generation: frame.Generation, Width: frame.Width, Height: frame.Height, Encoding: frame.Encoding}
			if data, err := json.Marshal(header); err == nil {
				conn.WriteMessage(textMessage, data)
			}
			headerSent = true
		}
		if frame.ResetMarker {
			conn.WriteMessage(textMessage, []byte(`{"type":"reset"}`))
		}
		if err := conn.WriteMessage(binaryMessage, frame.Payload); err != nil {
			return
		}
	}
}

// handleViewerJoin admits a viewer into the Agent's in-process broadcast
// Room (review item #5's RoomFrameSink wiring), distinct from the shared
// cmd/signaling plane's offer/answer/ICE exchange.
func handleViewerJoin(c *gin.Context, room *signaling.Room) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Agent().Error().Err(err).Msg("viewer websocket upgrade")
		return
	}

	client := &signaling.Client{
		ID: c.Query("client_id"), RoomID: room.ID, UserID: c.Query("user_id"),
		Role: models.RoleViewer, Conn: conn, Send: make(chan []byte, 64), Room: room, JoinedAt: time.Now(),
	}
	if client.ID == "" {
		client.ID = c.Param("id") + "-" + time.Now().Format(time.RFC3339Nano)
	}
	if err := room.Register(client); err != nil {
		conn.Close()
		return
	}
	go signaling.WritePump(client)
	signaling.ReadPump(client, func(*signaling.Client, []byte) {})
}

func consumeControlCommands(ctx context.Context, cfg *config.Config, sessionID string, agent *simagent.Agent) {
	opts := []nats.Option{nats.Name("cosim-simagent-" + sessionID)}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		logger.Agent().Error().Err(err).Msg("connect nats for control subscription")
		return
	}
	defer nc.Close()

	sub, err := nc.Subscribe(events.SubjectSessionControl, func(msg *nats.Msg) {
		var cmd models.ControlCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			logger.Agent().Error().Err(err).Msg("decode control command")
			return
		}
		if cmd.SessionID != sessionID {
			return
		}
		if _, err := agent.HandleCommand(ctx, &cmd); err != nil {
			logger.Agent().Error().Err(err).Str("session_id", sessionID).Msg("handle control command")
		}
	})
	if err != nil {
		logger.Agent().Error().Err(err).Msg("subscribe to control commands")
		return
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Agent().Fatal().Str("key", key).Msg("required environment variable not set")
	}
	return v
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
