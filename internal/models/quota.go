package models

import "time"

// QuotaLedger tracks an org's consumption against its Policy's hard caps,
// spec §3 "Quota ledger". The Session Orchestrator's admission algorithm
// (spec §4.5) consults this before granting a new Session and the cost-guard
// sweep updates it periodically while Sessions run.
type QuotaLedger struct {
	OrgID   string `json:"org_id"`
	Tier    string `json:"tier"`

	ActiveSessions int `json:"active_sessions"`
	ActiveGPU      int `json:"active_gpu"`

	CPUMinutesUsed int64 `json:"cpu_minutes_used"`
	GPUMinutesUsed int64 `json:"gpu_minutes_used"`

	PeriodStart time.Time `json:"period_start"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Remaining reports the CPU/GPU minutes left before the ledger's hard caps
// are hit, clamped at zero.
func (q *QuotaLedger) Remaining(hardCPUCap, hardGPUCap int64) (cpu, gpu int64) {
	cpu = hardCPUCap - q.CPUMinutesUsed
	if cpu < 0 {
		cpu = 0
	}
	gpu = hardGPUCap - q.GPUMinutesUsed
	if gpu < 0 {
		gpu = 0
	}
	return cpu, gpu
}

// AuditEventType enumerates the lifecycle events recorded to the audit trail,
// supplementing the spec per SPEC_FULL.md §12 with the teacher's
// EventType-tagged SessionEvent pattern (websocket/notifier.go).
type AuditEventType string

const (
	AuditSessionCreated     AuditEventType = "session.created"
	AuditSessionStateChange AuditEventType = "session.state_change"
	AuditSessionTerminated  AuditEventType = "session.terminated"
	AuditQuotaDenied        AuditEventType = "quota.denied"
	AuditPolicyDenied       AuditEventType = "policy.denied"
	AuditRestartExhausted   AuditEventType = "restart.exhausted"
	AuditCostGuardTripped   AuditEventType = "cost_guard.tripped"
)

// AuditEvent is one immutable row in the audit trail, retained for
// config.Config.AuditRetention.
type AuditEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	OrgID     string         `json:"org_id"`
	Type      AuditEventType `json:"type"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
