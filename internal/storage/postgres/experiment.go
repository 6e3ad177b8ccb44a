package postgres

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/experiment"
)

// ExperimentStore reads the experiments table maintained by the
// experiment projector, implementing experiment.Store.
type ExperimentStore struct {
	db *sql.DB
}

var _ experiment.Store = (*ExperimentStore)(nil)

// NewExperimentStore constructs a Postgres-backed experiment reader.
func NewExperimentStore(db *sql.DB) *ExperimentStore {
	return &ExperimentStore{db: db}
}

// EnsureSchema creates the experiments table if it does not already exist.
func (s *ExperimentStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			room_id TEXT,
			title TEXT NOT NULL,
			hypothesis TEXT NOT NULL,
			success_criteria TEXT,
			stop_conditions TEXT,
			budget_cap_units DOUBLE PRECISION NOT NULL DEFAULT 0,
			risk_tier TEXT NOT NULL,
			status TEXT NOT NULL,
			active_run_count INTEGER NOT NULL DEFAULT 0,
			close_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// Get implements experiment.Store.
func (s *ExperimentStore) Get(ctx context.Context, workspaceID, experimentID string) (domain.Experiment, error) {
	return experimentByID(ctx, s.db, workspaceID, experimentID)
}

// experimentByID takes an execer so the pipeline projector can read an
// experiment within the same transaction the experiment projector just
// wrote it in.
func experimentByID(ctx context.Context, q execer, workspaceID, experimentID string) (domain.Experiment, error) {
	var e domain.Experiment
	var roomID, successCriteria, stopConditions, closeReason sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, room_id, title, hypothesis, success_criteria, stop_conditions,
		       budget_cap_units, risk_tier, status, active_run_count, close_reason, created_at, updated_at
		FROM experiments WHERE workspace_id = $1 AND id = $2
	`, workspaceID, experimentID).Scan(
		&e.ID, &e.WorkspaceID, &roomID, &e.Title, &e.Hypothesis, &successCriteria, &stopConditions,
		&e.BudgetCapUnits, &e.RiskTier, &e.Status, &e.ActiveRunCount, &closeReason, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Experiment{}, err
	}

	e.RoomID, e.SuccessCriteria, e.StopConditions, e.CloseReason = roomID.String, successCriteria.String, stopConditions.String, closeReason.String
	return e, nil
}
