// Package quota implements admission-time quota enforcement, generalizing
// the teacher's quota.Enforcer (api/internal/quota/enforcer.go) from
// per-user/group Kubernetes pod counting to CoSim's tier-Policy model driven
// by a QuotaLedger.
package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/models"
)

// ExceededError reports which quota-ledger cap an admission request
// violated, carrying the stable machine-readable sub-reason spec
// §4.5/§7/§8 scenario 2 require ("concurrent", "gpu_concurrent",
// "cpu_minute_cap", "gpu_minute_cap") so callers can branch on it instead of
// parsing free text.
type ExceededError struct {
	SubReason string
	Reason    string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded (%s): %s", e.SubReason, e.Reason)
}

// IsExceeded reports whether err is (or wraps) an ExceededError.
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

// SubReason extracts the ExceededError sub-reason from err, or "" if err
// does not wrap one.
func SubReason(err error) string {
	var e *ExceededError
	if errors.As(err, &e) {
		return e.SubReason
	}
	return ""
}

// PolicyDeniedError reports an admission-time policy rejection (spec §4.5
// step 1), distinct from a quota-ledger cap: a GPU class the tier doesn't
// permit, or a tier whose wall-time budget would be exceeded immediately.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string { return fmt.Sprintf("policy denied: %s", e.Reason) }

// IsPolicyDenied reports whether err is (or wraps) a PolicyDeniedError.
func IsPolicyDenied(err error) bool {
	var e *PolicyDeniedError
	return errors.As(err, &e)
}

// Enforcer checks proposed Sessions against their org's Policy and
// QuotaLedger before the Orchestrator admits them, spec §4.5 admission
// algorithm.
type Enforcer struct {
	policies config.PolicySet
	ledgers  *db.QuotaLedgerStore
	sessions *db.SessionStore
}

// NewEnforcer constructs an Enforcer over a fixed PolicySet and the live
// ledger/session stores.
func NewEnforcer(policies config.PolicySet, ledgers *db.QuotaLedgerStore, sessions *db.SessionStore) *Enforcer {
	return &Enforcer{policies: policies, ledgers: ledgers, sessions: sessions}
}

// PolicyFor resolves the Policy for a tier, falling back to "free" when the
// tier is unrecognized.
func (e *Enforcer) PolicyFor(tier string) *config.Policy {
	if p, ok := e.policies[tier]; ok {
		return p
	}
	return e.policies["free"]
}

// CheckPolicy runs spec §4.5 admission step 1: reject a GPU class the tier
// doesn't allow, or a tier whose wall-time budget would be exceeded
// immediately (a policy with no wall-time budget configured can never admit
// a session). Returns a *PolicyDeniedError on rejection.
func (e *Enforcer) CheckPolicy(tier string, res models.Resources) error {
	policy := e.PolicyFor(tier)
	if res.GPUCount > 0 && !gpuClassAllowed(policy, res.GPUClass) {
		return &PolicyDeniedError{Reason: fmt.Sprintf("gpu class %q not permitted on tier %q", res.GPUClass, tier)}
	}
	if policy.MaxSessionWallSeconds <= 0 {
		return &PolicyDeniedError{Reason: fmt.Sprintf("tier %q has no wall-time budget", tier)}
	}
	return nil
}

// CheckLedger runs spec §4.5 admission step 2: the org's concurrent
// session/GPU caps and remaining CPU/GPU-minute budget. Returns an
// *ExceededError with a stable SubReason on rejection.
func (e *Enforcer) CheckLedger(ctx context.Context, orgID, tier string, res models.Resources) error {
	policy := e.PolicyFor(tier)

	active, activeGPU, err := e.sessions.CountActiveByOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("count active sessions: %w", err)
	}
	if active >= policy.MaxConcurrentSessions {
		return &ExceededError{SubReason: "concurrent", Reason: fmt.Sprintf("org %s at max concurrent sessions (%d)", orgID, policy.MaxConcurrentSessions)}
	}
	if res.GPUCount > 0 && activeGPU+res.GPUCount > policy.MaxConcurrentGPU {
		return &ExceededError{SubReason: "gpu_concurrent", Reason: fmt.Sprintf("org %s at max concurrent GPU (%d)", orgID, policy.MaxConcurrentGPU)}
	}

	ledger, err := e.ledgers.GetOrInit(ctx, orgID, tier)
	if err != nil {
		return fmt.Errorf("load quota ledger: %w", err)
	}
	cpuRemaining, gpuRemaining := ledger.Remaining(policy.HardCPUMinuteCap, policy.HardGPUMinuteCap)
	if cpuRemaining <= 0 {
		return &ExceededError{SubReason: "cpu_minute_cap", Reason: fmt.Sprintf("org %s exhausted CPU-minute budget", orgID)}
	}
	if res.GPUCount > 0 && gpuRemaining <= 0 {
		return &ExceededError{SubReason: "gpu_minute_cap", Reason: fmt.Sprintf("org %s exhausted GPU-minute budget", orgID)}
	}
	return nil
}

// CheckAdmission runs both admission steps in spec §4.5 order, for callers
// (the REST middleware's early rejection) that don't need to distinguish
// PolicyDenied from QuotaExceeded before rendering a response — Envelope
// still recovers the distinction from the returned error's concrete type.
func (e *Enforcer) CheckAdmission(ctx context.Context, orgID, tier string, res models.Resources) error {
	if err := e.CheckPolicy(tier, res); err != nil {
		return err
	}
	return e.CheckLedger(ctx, orgID, tier, res)
}

// Envelope renders a CheckAdmission/CheckPolicy/CheckLedger error into the
// REST error body of spec §7 ({error, reason, message}) and the HTTP status
// it maps to, so every handler surfaces the same stable sub-reason instead
// of a free-text message a caller can't branch on.
func Envelope(err error) (int, map[string]string) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return http.StatusTooManyRequests, map[string]string{
			"error":   "QuotaExceeded",
			"reason":  exceeded.SubReason,
			"message": exceeded.Reason,
		}
	}
	var denied *PolicyDeniedError
	if errors.As(err, &denied) {
		return http.StatusForbidden, map[string]string{
			"error":   "PolicyDenied",
			"message": denied.Reason,
		}
	}
	return http.StatusInternalServerError, map[string]string{
		"error":   "Internal",
		"message": err.Error(),
	}
}

func gpuClassAllowed(p *config.Policy, class models.GPUClass) bool {
	if class == "" {
		return true
	}
	for _, c := range p.AllowedGPUClasses {
		if c == string(class) {
			return true
		}
	}
	return false
}
