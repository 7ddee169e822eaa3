package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cosimio/cosim/internal/models"
)

// QuotaLedgerStore persists per-org, per-billing-period QuotaLedger rows,
// generalizing the teacher's quota.Enforcer (which read live Kubernetes pod
// usage) to a ledger the cost-guard sweep updates incrementally.
type QuotaLedgerStore struct {
	conn *sql.DB
}

// NewQuotaLedgerStore wraps a *sql.DB for QuotaLedger persistence.
func NewQuotaLedgerStore(conn *sql.DB) *QuotaLedgerStore {
	return &QuotaLedgerStore{conn: conn}
}

// GetOrInit fetches the current period's ledger for an org, creating a zeroed
// one if none exists yet.
func (q *QuotaLedgerStore) GetOrInit(ctx context.Context, orgID, tier string) (*models.QuotaLedger, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT org_id, tier, active_sessions, active_gpu, cpu_minutes_used, gpu_minutes_used,
		       period_start, updated_at
		FROM quota_ledgers
		WHERE org_id = $1 AND period_start = date_trunc('month', now())`, orgID)

	ledger, err := scanLedger(row)
	if errors.Is(err, ErrNotFound) {
		_, err = q.conn.ExecContext(ctx, `
			INSERT INTO quota_ledgers (org_id, tier) VALUES ($1, $2)
			ON CONFLICT (org_id, period_start) DO NOTHING`, orgID, tier)
		if err != nil {
			return nil, fmt.Errorf("init quota ledger: %w", err)
		}
		return q.GetOrInit(ctx, orgID, tier)
	}
	return ledger, err
}

// AdjustActive updates the live session/GPU counters when a Session starts
// or stops occupying a slot.
func (q *QuotaLedgerStore) AdjustActive(ctx context.Context, orgID string, sessionDelta, gpuDelta int) error {
	_, err := q.conn.ExecContext(ctx, `
		UPDATE quota_ledgers
		SET active_sessions = active_sessions + $2, active_gpu = active_gpu + $3, updated_at = now()
		WHERE org_id = $1 AND period_start = date_trunc('month', now())`, orgID, sessionDelta, gpuDelta)
	if err != nil {
		return fmt.Errorf("adjust active quota: %w", err)
	}
	return nil
}

// AddUsage accrues CPU/GPU minutes consumed, called by the cost-guard sweep
// (spec §4.5) on each tick for every running Session.
func (q *QuotaLedgerStore) AddUsage(ctx context.Context, orgID string, cpuMinutes, gpuMinutes int64) error {
	_, err := q.conn.ExecContext(ctx, `
		UPDATE quota_ledgers
		SET cpu_minutes_used = cpu_minutes_used + $2, gpu_minutes_used = gpu_minutes_used + $3, updated_at = now()
		WHERE org_id = $1 AND period_start = date_trunc('month', now())`, orgID, cpuMinutes, gpuMinutes)
	if err != nil {
		return fmt.Errorf("add quota usage: %w", err)
	}
	return nil
}

func scanLedger(row rowScanner) (*models.QuotaLedger, error) {
	var l models.QuotaLedger
	err := row.Scan(&l.OrgID, &l.Tier, &l.ActiveSessions, &l.ActiveGPU,
		&l.CPUMinutesUsed, &l.GPUMinutesUsed, &l.PeriodStart, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan quota ledger: %w", err)
	}
	return &l, nil
}
