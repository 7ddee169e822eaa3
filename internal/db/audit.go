package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cosimio/cosim/internal/models"
)

// AuditStore persists AuditEvent rows, supplementing the spec per
// SPEC_FULL.md §12.
type AuditStore struct {
	conn *sql.DB
}

// NewAuditStore wraps a *sql.DB for audit trail persistence.
func NewAuditStore(conn *sql.DB) *AuditStore {
	return &AuditStore{conn: conn}
}

// Record appends an audit event.
func (a *AuditStore) Record(ctx context.Context, e *models.AuditEvent) error {
	_, err := a.conn.ExecContext(ctx, `
		INSERT INTO audit_events (session_id, org_id, type, detail) VALUES ($1,$2,$3,$4)`,
		e.SessionID, e.OrgID, string(e.Type), e.Detail)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Prune deletes audit events older than the retention window; the
// orchestrator binary calls it from a cron job.
func (a *AuditStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	res, err := a.conn.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < now() - ($1 || ' days')::interval`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// ListForSession returns the most recent audit events for a Session, newest
// first.
func (a *AuditStore) ListForSession(ctx context.Context, sessionID string, limit int) ([]*models.AuditEvent, error) {
	rows, err := a.conn.QueryContext(ctx, `
		SELECT id, session_id, org_id, type, detail, created_at
		FROM audit_events WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var typ string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.OrgID, &typ, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = models.AuditEventType(typ)
		e.Detail = detail.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
