package models

import "time"

// EngineInstance is the subprocess-backed physics simulator bound to a
// Session's active PodHandle, spec §3 "Engine instance". Exactly one
// EngineInstance runs per pod; the Simulation Agent owns its lifecycle.
type EngineInstance struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	PodID      string     `json:"pod_id"`
	Kind       EngineKind `json:"kind"`
	ModelRef   string     `json:"model_ref"`
	PID        int        `json:"pid"`
	StartedAt  time.Time  `json:"started_at"`
	StepHZ     float64    `json:"step_hz"`
	FrameHZ    float64    `json:"frame_hz"`
	Generation int        `json:"generation"`
}

// StepResult is the per-tick result an engine subprocess reports back over
// its IPC channel: sim-time advance, observation payload, and whether the
// episode reached a terminal condition.
type StepResult struct {
	SimTimeSeconds float64         `json:"sim_time_seconds"`
	Observation    []byte          `json:"observation"`
	Reward         float64         `json:"reward,omitempty"`
	Done           bool            `json:"done"`
	Info           map[string]any  `json:"info,omitempty"`
}
