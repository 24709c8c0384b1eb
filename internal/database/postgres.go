// Package database opens the Postgres connection and owns the schema the
// campaign and evidence stores rely on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// Open connects to Postgres, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables if they do not exist. Evidence rows are
// insert-only: no UPDATE or DELETE path exists anywhere in the codebase, and
// the chain hashes make silent edits detectable regardless.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id               TEXT PRIMARY KEY,
			operator_name    TEXT NOT NULL,
			operator_email   TEXT NOT NULL,
			status           TEXT NOT NULL,
			request_sent_at  TIMESTAMPTZ NOT NULL,
			last_inbound_at  TIMESTAMPTZ,
			last_inbound_id  TEXT NOT NULL DEFAULT '',
			last_inbound_body TEXT NOT NULL DEFAULT '',
			decision_count   INTEGER NOT NULL DEFAULT 0,
			last_decision    JSONB,
			milestones       JSONB NOT NULL DEFAULT '[]',
			next_action_at   TIMESTAMPTZ NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_due
			ON campaigns (next_action_at)
			WHERE status NOT IN ('completed', 'escalated', 'failed', 'cancelled')`,

		`CREATE TABLE IF NOT EXISTS evidence_entries (
			id                     TEXT PRIMARY KEY,
			campaign_id            TEXT NOT NULL,
			evidence_type          TEXT NOT NULL,
			payload                JSONB NOT NULL,
			content_hash           TEXT NOT NULL,
			previous_hash          TEXT,
			timestamp_hash         TEXT NOT NULL,
			digital_fingerprint    TEXT NOT NULL,
			hash_chain             TEXT NOT NULL,
			verification_hash      TEXT NOT NULL,
			verification_signature TEXT NOT NULL,
			chain_position         INTEGER NOT NULL,
			collected_at           TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_chain
			ON evidence_entries (campaign_id, chain_position)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_type
			ON evidence_entries (evidence_type, collected_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
