package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/experiment"
	"github.com/agentctl/core/internal/incident"
)

// RunStore reads the runs table maintained by the run projector.
type RunStore struct {
	db *sql.DB
}

var (
	_ incident.RunLookup        = (*RunStore)(nil)
	_ experiment.ActiveRunCounter = (*RunStore)(nil)
)

// NewRunStore constructs a Postgres-backed run reader.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// EnsureSchema creates the runs and steps tables if they do not already
// exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			thread_id TEXT,
			experiment_id TEXT,
			title TEXT NOT NULL,
			goal TEXT NOT NULL,
			input JSONB,
			output JSONB,
			error TEXT,
			status TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			claim_token TEXT,
			claimed_by_actor_id TEXT,
			lease_expires_at TIMESTAMPTZ,
			lease_heartbeat_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs (workspace_id, experiment_id);

		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS run_attempts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			attempt_no INTEGER NOT NULL,
			claim_token TEXT NOT NULL,
			claimed_by TEXT NOT NULL,
			engine_id TEXT NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL,
			released_at TIMESTAMPTZ,
			release_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_run_attempts_run ON run_attempts (run_id, attempt_no);
	`)
	return err
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var threadID, experimentID, errMsg, claimToken, claimedBy sql.NullString
	var input, output []byte
	var leaseExpires, leaseHeartbeat sql.NullTime

	err := row.Scan(
		&r.ID, &r.WorkspaceID, &r.RoomID, &threadID, &experimentID, &r.Title, &r.Goal,
		&input, &output, &errMsg, &r.Status, &r.CorrelationID,
		&claimToken, &claimedBy, &leaseExpires, &leaseHeartbeat, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}

	r.ThreadID = threadID.String
	r.ExperimentID = experimentID.String
	r.Error = errMsg.String
	r.ClaimToken = claimToken.String
	r.ClaimedByActorID = claimedBy.String
	if leaseExpires.Valid {
		r.LeaseExpiresAt = &leaseExpires.Time
	}
	if leaseHeartbeat.Valid {
		r.LeaseHeartbeatAt = &leaseHeartbeat.Time
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &r.Input)
	}
	if len(output) > 0 {
		_ = json.Unmarshal(output, &r.Output)
	}
	return r, nil
}

const runColumns = `
	id, workspace_id, room_id, thread_id, experiment_id, title, goal,
	input, output, error, status, correlation_id,
	claim_token, claimed_by_actor_id, lease_expires_at, lease_heartbeat_at, created_at, updated_at
`

// Get fetches one run, implementing incident.RunLookup.
func (s *RunStore) Get(ctx context.Context, runID string) (domain.Run, error) {
	return runByID(ctx, s.db, runID)
}

// runByID takes an execer so the pipeline projector can read a run
// within the same transaction the run projector just wrote it in.
func runByID(ctx context.Context, q execer, runID string) (domain.Run, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	return scanRun(row)
}

// latestRunForExperiment returns the most recently created run bound to
// experimentID, used by the pipeline projector to resolve an
// experiment's latest_run_status/latest_run_id.
func latestRunForExperiment(ctx context.Context, q execer, workspaceID, experimentID string) (domain.Run, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE workspace_id = $1 AND experiment_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, workspaceID, experimentID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, err
	}
	return r, true, nil
}

// activeRunStatuses are the non-terminal run statuses counted against an
// experiment's close gate.
var activeRunStatuses = []string{string(domain.RunStatusQueued), string(domain.RunStatusRunning)}

// CountActive implements experiment.ActiveRunCounter: runs still queued or
// running count against the experiment's close gate.
func (s *RunStore) CountActive(ctx context.Context, workspaceID, experimentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM runs
		WHERE workspace_id = $1 AND experiment_id = $2 AND status = ANY($3)
	`, workspaceID, experimentID, pq.Array(activeRunStatuses)).Scan(&n)
	return n, err
}

// ListAttempts returns every claim attempt recorded against a run, oldest
// first, backing GET /v1/runs/:id/attempts.
func (s *RunStore) ListAttempts(ctx context.Context, runID string) ([]domain.RunAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, attempt_no, claim_token, claimed_by, engine_id, claimed_at, released_at, release_reason
		FROM run_attempts WHERE run_id = $1 ORDER BY attempt_no
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunAttempt
	for rows.Next() {
		var a domain.RunAttempt
		var releasedAt sql.NullTime
		var releaseReason sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.AttemptNo, &a.ClaimToken, &a.ClaimedBy, &a.EngineID,
			&a.ClaimedAt, &releasedAt, &releaseReason); err != nil {
			return nil, err
		}
		if releasedAt.Valid {
			a.ReleasedAt = &releasedAt.Time
		}
		a.ReleaseReason = releaseReason.String
		out = append(out, a)
	}
	return out, rows.Err()
}
