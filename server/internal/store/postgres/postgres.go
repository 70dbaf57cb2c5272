// Package postgres persists alert state in PostgreSQL.
//
// Each alert is one row keyed by id. The full alert is stored as JSONB next to
// the columns used for filtering; a write only replaces the row when it
// carries a higher version.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	hospital_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	data        JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alerts_hospital_open ON alerts (hospital_id) WHERE status <> 'resolved';`

const loadActiveQuery = `SELECT data FROM alerts WHERE hospital_id = $1 AND status <> 'resolved' ORDER BY id`

const persistQuery = `
INSERT INTO alerts (id, hospital_id, status, version, data, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE SET
	status     = EXCLUDED.status,
	version    = EXCLUDED.version,
	data       = EXCLUDED.data,
	updated_at = now()
WHERE alerts.version < EXCLUDED.version`

// Store is an alert.Store backed by a *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(db), nil
}

// Migrate creates the alerts table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// LoadActive returns the unresolved alerts of hospitalID.
func (s *Store) LoadActive(ctx context.Context, hospitalID string) ([]alert.Alert, error) {
	rows, err := s.db.QueryContext(ctx, loadActiveQuery, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load active %s: %w", hospitalID, err)
	}
	defer rows.Close()

	out := make([]alert.Alert, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		var a alert.Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("postgres: decode alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load active %s: %w", hospitalID, err)
	}
	return out, nil
}

// Persist upserts a. Rows already at the same or a newer version are left
// untouched.
func (s *Store) Persist(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres: encode alert %s: %w", a.ID, err)
	}
	if _, err := s.db.ExecContext(ctx, persistQuery,
		a.ID, a.HospitalID, string(a.Status), a.Version, data,
	); err != nil {
		return fmt.Errorf("postgres: persist %s: %w", a.ID, err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
