// Package orchestrator implements the Session Orchestrator (spec §4.5): the
// admission algorithm, the Session state machine, and the periodic
// supervision sweeps (health probe, idle detection, restart budget, cost
// guard). The sweep/reconcile structure is adapted from the teacher's
// services/session_reconciler.go (ticker-driven reconcile() fan-out to
// per-concern reconcileX() passes over raw-SQL-selected stuck rows).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cosimio/cosim/internal/cache"
	"github.com/cosimio/cosim/internal/clock"
	"github.com/cosimio/cosim/internal/config"
	"github.com/cosimio/cosim/internal/db"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/notify"
	"github.com/cosimio/cosim/internal/podalloc"
	"github.com/cosimio/cosim/internal/quota"
)

// Orchestrator owns the Session lifecycle, per spec §4.5.
type Orchestrator struct {
	sessions *db.SessionStore
	pods     *db.PodHandleStore
	ledgers  *db.QuotaLedgerStore
	audit    *db.AuditStore
	quota    *quota.Enforcer
	cache    *cache.Client
	events   *events.Publisher
	notifier *notify.Notifier
	clock    clock.Clock
	cfg      *config.Config

	backends map[string]podalloc.Backend
	pools    []NodePool
	poolByName map[string]NodePool

	restartBudget int

	cancel context.CancelFunc
}

// New constructs an Orchestrator wired to its dependencies. backends maps a
// node-pool backend name ("docker", "k8s") to its implementation; pools
// enumerates the node pools the admission algorithm selects between (spec
// §4.5 step 3) — pass nil to use DefaultNodePools.
func New(
	sessions *db.SessionStore,
	pods *db.PodHandleStore,
	ledgers *db.QuotaLedgerStore,
	audit *db.AuditStore,
	enforcer *quota.Enforcer,
	cacheClient *cache.Client,
	publisher *events.Publisher,
	notifier *notify.Notifier,
	clk clock.Clock,
	cfg *config.Config,
	backends map[string]podalloc.Backend,
	pools []NodePool,
) *Orchestrator {
	if pools == nil {
		pools = DefaultNodePools()
	}
	byName := make(map[string]NodePool, len(pools))
	for _, p := range pools {
		byName[p.Name] = p
	}
	return &Orchestrator{
		sessions:      sessions,
		pods:          pods,
		ledgers:       ledgers,
		audit:         audit,
		quota:         enforcer,
		cache:         cacheClient,
		events:        publisher,
		notifier:      notifier,
		clock:         clk,
		cfg:           cfg,
		backends:      backends,
		pools:         pools,
		poolByName:    byName,
		restartBudget: cfg.RestartBudget,
	}
}

// Admit runs the spec §4.5 admission algorithm in order: policy check
// (disallowed GPU class, exhausted wall-time budget), quota-ledger check
// (concurrent/minute caps), node-pool selection, then Session creation in
// StatePending followed by pod allocation with retry.
func (o *Orchestrator) Admit(ctx context.Context, sess *models.Session) error {
	policy := o.quota.PolicyFor(sess.Tier)

	if err := o.quota.CheckPolicy(sess.Tier, sess.Resources); err != nil {
		_ = o.audit.Record(ctx, &models.AuditEvent{
			SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditPolicyDenied, Detail: err.Error(),
		})
		return err
	}
	if err := o.quota.CheckLedger(ctx, sess.OrgID, sess.Tier, sess.Resources); err != nil {
		_ = o.audit.Record(ctx, &models.AuditEvent{
			SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditQuotaDenied, Detail: err.Error(),
		})
		return err
	}

	pool, err := o.selectNodePool(ctx, sess.Resources, policy)
	if err != nil {
		return fmt.Errorf("select node pool: %w", err)
	}

	sess.State = models.StatePending
	sess.Generation = 0
	sess.CreatedAt = o.clock.Now()
	sess.LastActivityAt = sess.CreatedAt

	if err := o.sessions.Insert(ctx, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := o.ledgers.AdjustActive(ctx, sess.OrgID, 1, sess.Resources.GPUCount); err != nil {
		logger.Orchestrator().Error().Err(err).Str("session_id", sess.ID).Msg("adjust quota ledger on admit")
	}
	_ = o.audit.Record(ctx, &models.AuditEvent{SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditSessionCreated})

	if err := o.sessions.TransitionState(ctx, sess.ID, models.StateScheduling); err != nil {
		return fmt.Errorf("transition to scheduling: %w", err)
	}
	return o.allocate(ctx, sess, *pool, 0)
}

// selectNodePool implements spec §4.5 step 3: a GPU request narrows
// candidates to the GPU pool matching the requested class; a CPU request
// narrows to CPU pools. Ties are broken by least-loaded pool, then by
// spot-eligibility when the tier's policy allows spot placement.
func (o *Orchestrator) selectNodePool(ctx context.Context, res models.Resources, policy *config.Policy) (*NodePool, error) {
	var candidates []NodePool
	for _, p := range o.pools {
		if _, wired := o.backends[p.Backend]; !wired {
			continue
		}
		if res.GPUCount > 0 {
			if p.GPUClass != "" && p.GPUClass == res.GPUClass {
				candidates = append(candidates, p)
			}
		} else if p.GPUClass == "" {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		if res.GPUCount > 0 {
			return nil, fmt.Errorf("no node pool wired for gpu class %q", res.GPUClass)
		}
		return nil, fmt.Errorf("no cpu node pool wired")
	}

	best := candidates[0]
	bestLoad, err := o.pods.CountActiveByNodePool(ctx, best.Name)
	if err != nil {
		return nil, fmt.Errorf("load pool %q: %w", best.Name, err)
	}
	for _, cand := range candidates[1:] {
		load, err := o.pods.CountActiveByNodePool(ctx, cand.Name)
		if err != nil {
			return nil, fmt.Errorf("load pool %q: %w", cand.Name, err)
		}
		switch {
		case load < bestLoad:
			best, bestLoad = cand, load
		case load == bestLoad && policy.SpotEligible && cand.SpotEligible && !best.SpotEligible:
			best = cand
		}
	}
	return &best, nil
}

// allocate provisions a pod for sess on pool, retrying allocator failures
// with capped exponential backoff and jitter before giving up (spec §4.5
// step 4).
func (o *Orchestrator) allocate(ctx context.Context, sess *models.Session, pool NodePool, generation int) error {
	be, ok := o.backends[pool.Backend]
	if !ok {
		return fmt.Errorf("unknown node-pool backend %q", pool.Backend)
	}

	var handle *models.PodHandle
	var allocErr error
	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		handle, allocErr = be.Allocate(ctx, sess, generation)
		if allocErr == nil {
			break
		}
		logger.Orchestrator().Warn().Err(allocErr).Str("session_id", sess.ID).Str("pool", pool.Name).
			Int("attempt", attempt).Msg("pod allocation failed")
		if attempt == maxAllocateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clock.After(nextBackoff(attempt)):
		}
	}
	if allocErr != nil {
		if termErr := o.sessions.Terminate(ctx, sess.ID, "allocation failed after retries: "+allocErr.Error()); termErr != nil {
			logger.Orchestrator().Error().Err(termErr).Msg("terminate after failed allocation")
		}
		return fmt.Errorf("allocate pod after %d attempts: %w", maxAllocateAttempts, allocErr)
	}
	handle.NodePool = pool.Name

	if err := o.pods.Insert(ctx, handle); err != nil {
		return fmt.Errorf("insert pod handle: %w", err)
	}
	return o.sessions.Rebind(ctx, sess.ID, handle.ID, generation)
}

// Terminate tears down a Session's active pod and marks it terminated.
func (o *Orchestrator) Terminate(ctx context.Context, sessionID, reason string) error {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	if sess.PodID != "" {
		handle, err := o.pods.GetActiveForSession(ctx, sessionID)
		if err == nil {
			if be, ok := o.backends[handle.Backend]; ok {
				if err := be.Deallocate(ctx, handle); err != nil {
					logger.Orchestrator().Error().Err(err).Str("session_id", sessionID).Msg("deallocate pod on terminate")
				}
			}
		}
	}

	if err := o.sessions.Terminate(ctx, sessionID, reason); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	if err := o.ledgers.AdjustActive(ctx, sess.OrgID, -1, -sess.Resources.GPUCount); err != nil {
		logger.Orchestrator().Error().Err(err).Msg("adjust quota ledger on terminate")
	}
	_ = o.audit.Record(ctx, &models.AuditEvent{SessionID: sessionID, OrgID: sess.OrgID, Type: models.AuditSessionTerminated, Detail: reason})
	if o.notifier != nil {
		_ = o.notifier.NotifyTerminated(sessionID, sess.UserID, reason)
	}
	return nil
}

// RecordActivity resets a Session's idle timer, called whenever a
// ControlCommand is submitted for it through the REST API. Viewer connections
// do not call it.
func (o *Orchestrator) RecordActivity(ctx context.Context, sessionID string) error {
	return o.sessions.TouchActivity(ctx, sessionID)
}

// Start launches the background sweeps (health probe, idle detection,
// restart/reconciliation, cost guard) on their own tickers in background
// goroutines and returns; the sweeps run until ctx is cancelled or Stop is
// called.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	go o.runLoop(ctx, o.clock.NewTicker(o.cfg.HealthInterval), o.healthSweep)
	go o.runLoop(ctx, o.clock.NewTicker(o.cfg.ScheduleInterval), o.reconcileSweep)
	go o.runLoop(ctx, o.clock.NewTicker(time.Minute), o.idleSweep)
	go o.runLoop(ctx, o.clock.NewTicker(time.Minute), o.costGuardSweep)
}

// Stop cancels all running sweeps.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, ticker clock.Ticker, fn func(context.Context)) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			fn(ctx)
		}
	}
}

// healthSweep probes every Ready/Idle Session's pod handle and restarts it
// (within the restart budget) if unhealthy, spec §4.5 supervision loop.
func (o *Orchestrator) healthSweep(ctx context.Context) {
	for _, state := range []models.SessionState{models.StateReady, models.StateIdle} {
		sessions, err := o.sessions.ListStuckInState(ctx, state, 0)
		if err != nil {
			logger.Orchestrator().Error().Err(err).Msg("list sessions for health sweep")
			continue
		}
		for _, sess := range sessions {
			o.probeAndMaybeRestart(ctx, sess)
		}
	}
}

func (o *Orchestrator) probeAndMaybeRestart(ctx context.Context, sess *models.Session) {
	handle, err := o.pods.GetActiveForSession(ctx, sess.ID)
	if err != nil {
		return
	}
	be, ok := o.backends[handle.Backend]
	if !ok {
		return
	}

	health, err := be.Probe(ctx, handle)
	if err != nil {
		logger.Orchestrator().Error().Err(err).Str("session_id", sess.ID).Msg("probe pod health")
		return
	}
	_ = o.pods.UpdateHealth(ctx, handle.ID, health)

	if health == models.HealthHealthy {
		return
	}

	if sess.Generation >= o.restartBudget {
		_ = o.audit.Record(ctx, &models.AuditEvent{
			SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditRestartExhausted,
			Detail: fmt.Sprintf("generation %d exceeded restart budget %d", sess.Generation, o.restartBudget),
		})
		_ = o.Terminate(ctx, sess.ID, "restart budget exhausted")
		return
	}

	logger.Orchestrator().Warn().Str("session_id", sess.ID).Str("health", string(health)).Msg("restarting unhealthy pod")
	pool, ok := o.poolByName[handle.NodePool]
	if !ok {
		pool = NodePool{Name: handle.NodePool, Backend: handle.Backend}
	}
	if err := o.allocate(ctx, sess, pool, sess.Generation+1); err != nil {
		logger.Orchestrator().Error().Err(err).Str("session_id", sess.ID).Msg("restart pod")
	}
}

// idleSweep transitions Sessions past their IdleTimeoutSeconds into
// StateIdle, and hibernates Idle sessions into termination once the tier
// Policy's HibernateToTerminate window elapses.
func (o *Orchestrator) idleSweep(ctx context.Context) {
	ready, err := o.sessions.ListStuckInState(ctx, models.StateReady, 0)
	if err != nil {
		logger.Orchestrator().Error().Err(err).Msg("list ready sessions for idle sweep")
		return
	}
	for _, sess := range ready {
		idleFor := o.clock.Now().Sub(sess.LastActivityAt)
		if sess.IdleTimeoutSeconds > 0 && idleFor > time.Duration(sess.IdleTimeoutSeconds)*time.Second {
			if err := o.sessions.TransitionState(ctx, sess.ID, models.StateIdle); err != nil {
				logger.Orchestrator().Error().Err(err).Str("session_id", sess.ID).Msg("transition to idle")
				continue
			}
			if o.notifier != nil {
				_ = o.notifier.NotifyStateChange(sess.ID, sess.UserID, models.StateReady, models.StateIdle)
			}
		}
	}

	idle, err := o.sessions.ListStuckInState(ctx, models.StateIdle, 0)
	if err != nil {
		logger.Orchestrator().Error().Err(err).Msg("list idle sessions for hibernate sweep")
		return
	}
	for _, sess := range idle {
		policy := o.quota.PolicyFor(sess.Tier)
		idleFor := o.clock.Now().Sub(sess.LastActivityAt)
		if policy.HibernateToTerminate > 0 && idleFor > time.Duration(policy.HibernateToTerminate)*time.Second {
			_ = o.Terminate(ctx, sess.ID, "idle hibernation window exceeded")
		}
	}
}

// reconcileSweep force-resolves Sessions stuck in a transient state for too
// long, directly mirroring the teacher's reconcileTerminatingSessions /
// reconcilePendingSessions pattern.
func (o *Orchestrator) reconcileSweep(ctx context.Context) {
	const stuckThreshold = 5 * time.Minute

	stuck, err := o.sessions.ListStuckInState(ctx, models.StateScheduling, int64(stuckThreshold.Seconds()))
	if err != nil {
		logger.Orchestrator().Error().Err(err).Msg("list stuck scheduling sessions")
		return
	}
	for _, sess := range stuck {
		logger.Orchestrator().Warn().Str("session_id", sess.ID).Msg("session stuck in scheduling, force-terminating")
		_ = o.sessions.Terminate(ctx, sess.ID, "stuck in scheduling past threshold")
	}
}

// costGuardSweep accrues CPU/GPU-minute usage for every Ready, Idle or
// Booting Session (Idle ones at the tier Policy's IdleChargeRate) and
// force-terminates any whose org ledger has reached the tier Policy's hard
// cap or that have exceeded its maximum wall-clock duration (spec §4.5 cost
// guard).
func (o *Orchestrator) costGuardSweep(ctx context.Context) {
	for _, state := range []models.SessionState{models.StateReady, models.StateIdle, models.StateBooting} {
		sessions, err := o.sessions.ListStuckInState(ctx, state, 0)
		if err != nil {
			continue
		}
		for _, sess := range sessions {
			policy := o.quota.PolicyFor(sess.Tier)

			rate := 1.0
			if sess.State == models.StateIdle {
				rate = policy.IdleChargeRate
			}
			cpuMinutes := int64(sess.Resources.CPUCores * rate)
			gpuMinutes := int64(float64(sess.Resources.GPUCount) * rate)
			if err := o.ledgers.AddUsage(ctx, sess.OrgID, cpuMinutes, gpuMinutes); err != nil {
				logger.Orchestrator().Error().Err(err).Str("session_id", sess.ID).Msg("accrue usage")
			}

			if ledger, err := o.ledgers.GetOrInit(ctx, sess.OrgID, sess.Tier); err == nil {
				cpuLeft, gpuLeft := ledger.Remaining(policy.HardCPUMinuteCap, policy.HardGPUMinuteCap)
				if cpuLeft <= 0 || (sess.Resources.GPUCount > 0 && gpuLeft <= 0) {
					_ = o.audit.Record(ctx, &models.AuditEvent{
						SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditCostGuardTripped,
						Detail: "hard minute cap reached",
					})
					_ = o.Terminate(ctx, sess.ID, "cap_hit")
					continue
				}
			}

			wallElapsed := o.clock.Now().Sub(sess.CreatedAt)
			if policy.MaxSessionWallSeconds > 0 && wallElapsed > time.Duration(policy.MaxSessionWallSeconds)*time.Second {
				_ = o.audit.Record(ctx, &models.AuditEvent{
					SessionID: sess.ID, OrgID: sess.OrgID, Type: models.AuditCostGuardTripped,
					Detail: "max session wall duration exceeded",
				})
				_ = o.Terminate(ctx, sess.ID, "max session wall duration exceeded")
			}
		}
	}
}

// NewSessionID generates a new Session ID.
func NewSessionID() string { return uuid.NewString() }
