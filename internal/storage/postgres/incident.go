package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/incident"
)

// IncidentStore reads the incidents table maintained by the incident
// projector, implementing incident.Store.
type IncidentStore struct {
	db *sql.DB
}

var _ incident.Store = (*IncidentStore)(nil)

// NewIncidentStore constructs a Postgres-backed incident reader.
func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// EnsureSchema creates the incidents table if it does not already exist.
func (s *IncidentStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			run_id TEXT,
			room_id TEXT,
			thread_id TEXT,
			correlation_id TEXT,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			rca JSONB,
			rca_updated_at TIMESTAMPTZ,
			learnings JSONB NOT NULL DEFAULT '[]',
			learning_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_incidents_run ON incidents (workspace_id, run_id) WHERE status = 'open';
	`)
	return err
}

// Get implements incident.Store.
func (s *IncidentStore) Get(ctx context.Context, workspaceID, incidentID string) (domain.Incident, error) {
	var inc domain.Incident
	var runID, roomID, threadID, correlationID sql.NullString
	var rca, learnings []byte
	var rcaUpdatedAt, closedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, room_id, thread_id, correlation_id, severity,
		       status, rca, rca_updated_at, learnings, learning_count, created_at, closed_at
		FROM incidents WHERE workspace_id = $1 AND id = $2
	`, workspaceID, incidentID).Scan(
		&inc.ID, &inc.WorkspaceID, &runID, &roomID, &threadID, &correlationID, &inc.Severity,
		&inc.Status, &rca, &rcaUpdatedAt, &learnings, &inc.LearningCount, &inc.CreatedAt, &closedAt,
	)
	if err != nil {
		return domain.Incident{}, err
	}

	inc.RunID, inc.RoomID, inc.ThreadID, inc.CorrelationID = runID.String, roomID.String, threadID.String, correlationID.String
	if rcaUpdatedAt.Valid {
		inc.RCAUpdatedAt = &rcaUpdatedAt.Time
	}
	if closedAt.Valid {
		inc.ClosedAt = &closedAt.Time
	}
	if len(rca) > 0 {
		_ = json.Unmarshal(rca, &inc.RCA)
	}
	if len(learnings) > 0 {
		_ = json.Unmarshal(learnings, &inc.Learnings)
	}
	return inc, nil
}

// HasActiveForRun reports whether the run has an open incident bound to
// it, feeding the pipeline snapshot's has_active_incident flag.
func (s *IncidentStore) HasActiveForRun(ctx context.Context, workspaceID, runID string) (bool, error) {
	return hasActiveIncidentForRun(ctx, s.db, workspaceID, runID)
}

// hasActiveIncidentForRun takes an execer so the pipeline projector can
// read it within the same transaction an incident projector just wrote
// in.
func hasActiveIncidentForRun(ctx context.Context, q execer, workspaceID, runID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT count(*) FROM incidents WHERE workspace_id = $1 AND run_id = $2 AND status = 'open'
	`, workspaceID, runID).Scan(&n)
	return n > 0, err
}
