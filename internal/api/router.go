// Package api wires the CoSim REST surface (spec §6) using gin, following
// the teacher's handler/middleware composition style.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cosimio/cosim/internal/auth"
	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/middleware"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/orchestrator"
	"github.com/cosimio/cosim/internal/quota"
)

// Server bundles the dependencies REST handlers need.
type Server struct {
	orch      *orchestrator.Orchestrator
	sessions  *db.SessionStore
	audit     *db.AuditStore
	publisher *events.Publisher
	verifier  *auth.Verifier
	enforcer  *quota.Enforcer
}

// NewServer constructs a Server.
func NewServer(orch *orchestrator.Orchestrator, sessions *db.SessionStore, audit *db.AuditStore, publisher *events.Publisher, verifier *auth.Verifier, enforcer *quota.Enforcer) *Server {
	return &Server{orch: orch, sessions: sessions, audit: audit, publisher: publisher, verifier: verifier, enforcer: enforcer}
}

// Router constructs the gin.Engine with all middleware and routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.DefaultSizeLimiter())
	r.Use(middleware.RateLimit(middleware.GetRateLimiter()))

	r.GET("/healthz", s.handleHealthz)

	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(s.verifier))
	v1.Use(middleware.AuditLog(s.audit))
	{
		v1.POST("/sessions", middleware.JSONSizeLimiter(), s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleTerminateSession)
		v1.POST("/sessions/:id/control", middleware.JSONSizeLimiter(), s.handleControlCommand)
		v1.GET("/sessions/:id/audit", s.handleSessionAudit)
	}

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createSessionRequest mirrors spec §6 POST /sessions verbatim: the caller
// names the workspace, engine, model, and resource shape; node-pool
// selection is the Orchestrator's admission algorithm's job (spec §4.5 step
// 3), never the client's.
type createSessionRequest struct {
	WorkspaceID        string            `json:"workspace_id" binding:"required"`
	Engine             models.EngineKind `json:"engine" binding:"required"`
	ModelRef           string            `json:"model_ref" binding:"required"`
	Resources          models.Resources  `json:"resources" binding:"required"`
	IdleTimeoutSeconds int64             `json:"idle_timeout_seconds"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !middleware.EnforceSessionCreation(c, s.enforcer, req.Resources) {
		return
	}

	sess := &models.Session{
		ID:                 orchestrator.NewSessionID(),
		WorkspaceID:        req.WorkspaceID,
		OrgID:              auth.OrgID(c),
		UserID:             auth.UserID(c),
		Tier:               auth.Tier(c),
		Resources:          req.Resources,
		Engine:             req.Engine,
		ModelRef:           req.ModelRef,
		IdleTimeoutSeconds: req.IdleTimeoutSeconds,
	}

	if err := s.orch.Admit(c.Request.Context(), sess); err != nil {
		status, body := quota.Envelope(err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == db.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleTerminateSession(c *gin.Context) {
	if err := s.orch.Terminate(c.Request.Context(), c.Param("id"), "user requested termination"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

func (s *Server) handleControlCommand(c *gin.Context) {
	var cmd models.ControlCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd.SessionID = c.Param("id")

	if err := s.orch.RecordActivity(c.Request.Context(), cmd.SessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	if err := s.publisher.PublishControlCommand(&cmd); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"idempotency_key": cmd.IdempotencyKey})
}

func (s *Server) handleSessionAudit(c *gin.Context) {
	events, err := s.audit.ListForSession(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
