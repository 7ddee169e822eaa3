package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cosimio/cosim/internal/models"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("db: not found")

// SessionStore persists Session rows.
type SessionStore struct {
	conn *sql.DB
}

// NewSessionStore wraps a *sql.DB for Session persistence.
func NewSessionStore(conn *sql.DB) *SessionStore {
	return &SessionStore{conn: conn}
}

// Insert creates a new Session row in StatePending.
func (s *SessionStore) Insert(ctx context.Context, sess *models.Session) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sessions
			(id, workspace_id, org_id, user_id, tier, cpu_cores, mem_bytes, gpu_count,
			 gpu_class, engine, model_ref, state, generation, idle_timeout_seconds,
			 created_at, last_activity_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		sess.ID, sess.WorkspaceID, sess.OrgID, sess.UserID, sess.Tier,
		sess.Resources.CPUCores, sess.Resources.MemBytes, sess.Resources.GPUCount,
		nullString(string(sess.Resources.GPUClass)), string(sess.Engine), sess.ModelRef,
		string(sess.State), sess.Generation, sess.IdleTimeoutSeconds,
		sess.CreatedAt, sess.LastActivityAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get fetches a Session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, workspace_id, org_id, user_id, tier, cpu_cores, mem_bytes, gpu_count,
		       gpu_class, engine, model_ref, state, generation, idle_timeout_seconds,
		       pod_id, created_at, last_activity_at, terminated_at, termination_reason
		FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// TransitionState updates a Session's state, incrementing generation when
// transitioning out of Terminated-adjacent restart paths is handled by the
// caller (the Orchestrator owns generation bumps explicitly via Rebind).
func (s *SessionStore) TransitionState(ctx context.Context, id string, state models.SessionState) error {
	res, err := s.conn.ExecContext(ctx, `UPDATE sessions SET state = $2 WHERE id = $1`, id, string(state))
	if err != nil {
		return fmt.Errorf("transition session state: %w", err)
	}
	return checkRowsAffected(res)
}

// Rebind advances a Session to a new generation and pod handle, used when
// the Orchestrator restarts a crashed pod (spec §4.5 restart budget).
func (s *SessionStore) Rebind(ctx context.Context, id, podID string, generation int) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sessions SET pod_id = $2, generation = $3, state = $4 WHERE id = $1`,
		id, podID, generation, string(models.StateScheduling))
	if err != nil {
		return fmt.Errorf("rebind session: %w", err)
	}
	return checkRowsAffected(res)
}

// TouchActivity bumps last_activity_at, clearing Idle state if currently set.
func (s *SessionStore) TouchActivity(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = now(),
		       state = CASE WHEN state = 'idle' THEN 'ready' ELSE state END
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return checkRowsAffected(res)
}

// Terminate marks a Session terminated with a reason, spec §4.5.
func (s *SessionStore) Terminate(ctx context.Context, id, reason string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE sessions SET state = 'terminated', terminated_at = now(), termination_reason = $2
		WHERE id = $1 AND state <> 'terminated'`, id, reason)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return checkRowsAffected(res)
}

// ListStuckInState returns sessions that have sat in the given state longer
// than staleness allows, for the reconciliation sweep (adapted from the
// teacher's reconcileTerminatingSessions/reconcilePendingSessions).
func (s *SessionStore) ListStuckInState(ctx context.Context, state models.SessionState, olderThanSeconds int64) ([]*models.Session, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, workspace_id, org_id, user_id, tier, cpu_cores, mem_bytes, gpu_count,
		       gpu_class, engine, model_ref, state, generation, idle_timeout_seconds,
		       pod_id, created_at, last_activity_at, terminated_at, termination_reason
		FROM sessions
		WHERE state = $1 AND last_activity_at < now() - ($2 || ' seconds')::interval`,
		string(state), olderThanSeconds)
	if err != nil {
		return nil, fmt.Errorf("list stuck sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountActiveByOrg counts non-terminal sessions for an org, used by the
// quota Enforcer's admission check.
func (s *SessionStore) CountActiveByOrg(ctx context.Context, orgID string) (int, int, error) {
	var sessions, gpu int
	err := s.conn.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(gpu_count), 0) FROM sessions
		WHERE org_id = $1 AND state NOT IN ('terminated', 'failed')`, orgID).
		Scan(&sessions, &gpu)
	if err != nil {
		return 0, 0, fmt.Errorf("count active sessions: %w", err)
	}
	return sessions, gpu, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	return scanSessionRows(row)
}

func scanSessionRows(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var gpuClass, podID, terminationReason sql.NullString
	var terminatedAt sql.NullTime
	var engine, state string

	err := row.Scan(
		&sess.ID, &sess.WorkspaceID, &sess.OrgID, &sess.UserID, &sess.Tier,
		&sess.Resources.CPUCores, &sess.Resources.MemBytes, &sess.Resources.GPUCount,
		&gpuClass, &engine, &sess.ModelRef, &state, &sess.Generation, &sess.IdleTimeoutSeconds,
		&podID, &sess.CreatedAt, &sess.LastActivityAt, &terminatedAt, &terminationReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.Resources.GPUClass = models.GPUClass(gpuClass.String)
	sess.PodID = podID.String
	sess.Engine = models.EngineKind(engine)
	sess.State = models.SessionState(state)
	sess.TerminationReason = terminationReason.String
	if terminatedAt.Valid {
		sess.TerminatedAt = &terminatedAt.Time
	}
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
