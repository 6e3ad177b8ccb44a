package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentctl/core/internal/projector"
)

// CatchUpStore backs both projector.WatermarkStore and
// projector.DeadLetterStore on the same connection pool; the two tables
// are small and only ever touched by the catch-up worker, so one store
// type covers both rather than forcing a pair of near-empty files.
type CatchUpStore struct {
	db *sql.DB
}

var (
	_ projector.WatermarkStore  = (*CatchUpStore)(nil)
	_ projector.DeadLetterStore = (*CatchUpStore)(nil)
)

// NewCatchUpStore constructs the watermark/dead-letter store.
func NewCatchUpStore(db *sql.DB) *CatchUpStore {
	return &CatchUpStore{db: db}
}

// EnsureSchema creates the projector_watermarks and dead_letter_events
// tables if they do not already exist.
func (s *CatchUpStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projector_watermarks (
			workspace_id TEXT NOT NULL,
			projector_name TEXT NOT NULL,
			watermark_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (workspace_id, projector_name)
		);

		CREATE TABLE IF NOT EXISTS dead_letter_events (
			id BIGSERIAL PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			projector_name TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_dead_letter_workspace ON dead_letter_events (workspace_id);
	`)
	return err
}

// Get implements projector.WatermarkStore. An unset watermark returns the
// zero time, which ListSince treats as "since the beginning".
func (s *CatchUpStore) Get(ctx context.Context, workspaceID, projectorName string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT watermark_at FROM projector_watermarks WHERE workspace_id = $1 AND projector_name = $2
	`, workspaceID, projectorName).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return at, err
}

// Set implements projector.WatermarkStore.
func (s *CatchUpStore) Set(ctx context.Context, workspaceID, projectorName string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projector_watermarks (workspace_id, projector_name, watermark_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, projector_name) DO UPDATE SET watermark_at = EXCLUDED.watermark_at
	`, workspaceID, projectorName, at)
	return err
}

// Record implements projector.DeadLetterStore.
func (s *CatchUpStore) Record(ctx context.Context, workspaceID, eventID, projectorName, reason string, attempts int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letter_events (workspace_id, event_id, projector_name, reason, attempts)
		VALUES ($1, $2, $3, $4, $5)
	`, workspaceID, eventID, projectorName, reason, attempts)
	return err
}

// Backlog implements projector.DeadLetterStore: the current count of
// dead-lettered events, consulted by the health subsystem's DLQ-backlog
// threshold check.
func (s *CatchUpStore) Backlog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM dead_letter_events`).Scan(&n)
	return n, err
}
