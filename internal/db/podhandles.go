package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cosimio/cosim/internal/models"
)

// PodHandleStore persists PodHandle rows.
type PodHandleStore struct {
	conn *sql.DB
}

// NewPodHandleStore wraps a *sql.DB for PodHandle persistence.
func NewPodHandleStore(conn *sql.DB) *PodHandleStore {
	return &PodHandleStore{conn: conn}
}

// Insert records a newly allocated pod handle.
func (p *PodHandleStore) Insert(ctx context.Context, h *models.PodHandle) error {
	_, err := p.conn.ExecContext(ctx, `
		INSERT INTO pod_handles (id, session_id, generation, node_pool, backend, address, health, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.ID, h.SessionID, h.Generation, h.NodePool, h.Backend, h.Address, string(h.Health), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pod handle: %w", err)
	}
	return nil
}

// UpdateHealth records the Orchestrator's latest health-probe result for a
// pod handle, spec §4.5 supervision loop.
func (p *PodHandleStore) UpdateHealth(ctx context.Context, id string, health models.PodHealth) error {
	res, err := p.conn.ExecContext(ctx, `UPDATE pod_handles SET health = $2 WHERE id = $1`, id, string(health))
	if err != nil {
		return fmt.Errorf("update pod handle health: %w", err)
	}
	return checkRowsAffected(res)
}

// CountActiveByNodePool counts pod handles on nodePool whose session is not
// yet terminal, used by the Orchestrator's node-pool-selection tie-break
// (spec §4.5 step 3 "least-loaded pool").
func (p *PodHandleStore) CountActiveByNodePool(ctx context.Context, nodePool string) (int, error) {
	var count int
	err := p.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM pod_handles ph
		JOIN sessions s ON s.id = ph.session_id
		WHERE ph.node_pool = $1 AND s.state NOT IN ('terminated', 'failed')`, nodePool).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active pods by node pool: %w", err)
	}
	return count, nil
}

// GetActiveForSession returns the current (highest generation) pod handle
// bound to a Session, if any.
func (p *PodHandleStore) GetActiveForSession(ctx context.Context, sessionID string) (*models.PodHandle, error) {
	row := p.conn.QueryRowContext(ctx, `
		SELECT id, session_id, generation, node_pool, backend, address, health, created_at
		FROM pod_handles WHERE session_id = $1 ORDER BY generation DESC LIMIT 1`, sessionID)

	var h models.PodHandle
	var health string
	err := row.Scan(&h.ID, &h.SessionID, &h.Generation, &h.NodePool, &h.Backend, &h.Address, &health, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active pod handle: %w", err)
	}
	h.Health = models.PodHealth(health)
	return &h, nil
}
