// Package db implements Postgres persistence for the CoSim control plane,
// using raw SQL via lib/pq rather than an ORM, matching the teacher's
// services/session_reconciler.go and events/subscriber.go style.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cosimio/cosim/internal/logger"
)

// Open connects to Postgres and verifies the connection with a ping.
func Open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.DB().Info().Msg("connected to postgres")
	return conn, nil
}

// Migrate applies the control plane's schema. It is intentionally
// idempotent (CREATE TABLE IF NOT EXISTS) so it is safe to run on every
// process start, matching how the teacher's controllers assume the schema
// already exists but our cmd/ binaries own migration themselves.
func Migrate(conn *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id                   TEXT PRIMARY KEY,
		workspace_id         TEXT NOT NULL,
		org_id               TEXT NOT NULL,
		user_id              TEXT NOT NULL,
		tier                 TEXT NOT NULL,
		cpu_cores            DOUBLE PRECISION NOT NULL,
		mem_bytes            BIGINT NOT NULL,
		gpu_count            INTEGER NOT NULL DEFAULT 0,
		gpu_class            TEXT,
		engine               TEXT NOT NULL,
		model_ref            TEXT NOT NULL,
		state                TEXT NOT NULL,
		generation           INTEGER NOT NULL DEFAULT 0,
		idle_timeout_seconds BIGINT NOT NULL DEFAULT 0,
		pod_id               TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		terminated_at        TIMESTAMPTZ,
		termination_reason   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_org_state ON sessions (org_id, state)`,
	`CREATE TABLE IF NOT EXISTS pod_handles (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		generation  INTEGER NOT NULL,
		node_pool   TEXT NOT NULL,
		backend     TEXT NOT NULL,
		address     TEXT,
		health      TEXT NOT NULL DEFAULT 'unknown',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pod_handles_session ON pod_handles (session_id)`,
	`CREATE TABLE IF NOT EXISTS quota_ledgers (
		org_id            TEXT NOT NULL,
		tier              TEXT NOT NULL,
		active_sessions   INTEGER NOT NULL DEFAULT 0,
		active_gpu        INTEGER NOT NULL DEFAULT 0,
		cpu_minutes_used  BIGINT NOT NULL DEFAULT 0,
		gpu_minutes_used  BIGINT NOT NULL DEFAULT 0,
		period_start      TIMESTAMPTZ NOT NULL DEFAULT date_trunc('month', now()),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (org_id, period_start)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id          BIGSERIAL PRIMARY KEY,
		session_id  TEXT NOT NULL,
		org_id      TEXT NOT NULL,
		type        TEXT NOT NULL,
		detail      TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events (created_at)`,
}
