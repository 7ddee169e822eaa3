// Package models defines the shared data types of the CoSim control plane:
// Session, Pod handle, Engine instance, Frame, Control command, Room, and
// Quota ledger, per spec.md §3 DATA MODEL.
package models

import "time"

// SessionState is the state-machine phase of a Session, per spec §4.5.
type SessionState string

const (
	StatePending     SessionState = "pending"
	StateScheduling  SessionState = "scheduling"
	StatePulling     SessionState = "pulling"
	StateBooting     SessionState = "booting"
	StateReady       SessionState = "ready"
	StateIdle        SessionState = "idle"
	StateFailed      SessionState = "failed"
	StateTerminated  SessionState = "terminated"
)

// EngineKind names a supported physics simulator.
type EngineKind string

const (
	EngineMuJoCo   EngineKind = "mujoco"
	EnginePyBullet EngineKind = "pybullet"
)

// GPUClass is an opaque GPU SKU tag (e.g. "t4", "a10").
type GPUClass string

// Resources is the requested compute shape for a Session.
type Resources struct {
	CPUCores float64  `json:"cpu"`
	MemBytes int64    `json:"mem"`
	GPUCount int      `json:"gpu"`
	GPUClass GPUClass `json:"gpu_class,omitempty"`
}

// Session is the primary unit of work, spec §3 "Session".
type Session struct {
	ID          string       `json:"session_id"`
	WorkspaceID string       `json:"workspace_id"`
	OrgID       string       `json:"org_id"`
	UserID      string       `json:"user_id"`
	Tier        string       `json:"tier"`

	Resources Resources  `json:"resources"`
	Engine    EngineKind `json:"engine"`
	ModelRef  string     `json:"model_ref"`

	State      SessionState `json:"state"`
	Generation int          `json:"generation"`

	IdleTimeoutSeconds int64 `json:"idle_timeout_seconds"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`

	TerminationReason string `json:"termination_reason,omitempty"`

	// PodID references the currently active PodHandle, empty when no pod is
	// allocated (Pending, Failed, Terminated).
	PodID string `json:"pod_id,omitempty"`
}

// IsTerminal reports whether no further transitions are expected.
func (s *Session) IsTerminal() bool {
	return s.State == StateTerminated
}

// PodHealth is the Orchestrator's view of pod-handle liveness.
type PodHealth string

const (
	HealthUnknown   PodHealth = "unknown"
	HealthHealthy   PodHealth = "healthy"
	HealthUnhealthy PodHealth = "unhealthy"
	HealthGone      PodHealth = "gone"
)

// PodHandle is the externally allocated execution unit bound to a Session,
// spec §3 "Pod handle". Exactly one PodHandle is active per Session
// generation.
type PodHandle struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Generation int       `json:"generation"`
	NodePool   string    `json:"node_pool"`
	Backend    string    `json:"backend"` // "docker" | "k8s"
	Address    string    `json:"address"`
	Health     PodHealth `json:"health"`
	CreatedAt  time.Time `json:"created_at"`
}
