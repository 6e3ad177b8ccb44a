package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// ApprovalStore reads the approvals table maintained by the approval
// projector.
type ApprovalStore struct {
	db *sql.DB
}

// NewApprovalStore constructs a Postgres-backed approval reader.
func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

const approvalColumns = `
	id, workspace_id, action_code, scope, requested_by_id, status,
	decided_by_id, decided_at, scope_snapshot, run_id, room_id, experiment_id,
	last_event_id, created_at
`

func scanApproval(row rowScanner) (domain.Approval, error) {
	var a domain.Approval
	var decidedBy, runID, roomID, experimentID sql.NullString
	var decidedAt sql.NullTime
	var snapshot []byte

	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.ActionCode, &a.Scope, &a.RequestedByID, &a.Status,
		&decidedBy, &decidedAt, &snapshot, &runID, &roomID, &experimentID,
		&a.LastEventID, &a.CreatedAt,
	)
	if err != nil {
		return domain.Approval{}, err
	}
	a.DecidedByID = decidedBy.String
	a.RunID = runID.String
	a.RoomID = roomID.String
	a.ExperimentID = experimentID.String
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &a.ScopeSnapshot)
	}
	return a, nil
}

// Get fetches one approval by id.
func (s *ApprovalStore) Get(ctx context.Context, workspaceID, approvalID string) (domain.Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals WHERE workspace_id = $1 AND id = $2
	`, workspaceID, approvalID)
	return scanApproval(row)
}

// HasPendingForRun implements pipeline.ApprovalLookup for run entities.
func (s *ApprovalStore) HasPendingForRun(ctx context.Context, workspaceID, runID string) (bool, error) {
	return hasPendingApproval(ctx, s.db, workspaceID, "run_id", runID)
}

// HasPendingForExperiment implements pipeline.ApprovalLookup for
// experiment entities.
func (s *ApprovalStore) HasPendingForExperiment(ctx context.Context, workspaceID, experimentID string) (bool, error) {
	return hasPendingApproval(ctx, s.db, workspaceID, "experiment_id", experimentID)
}

// hasPendingApproval takes an execer so the pipeline projector can check
// for a pending approval within the same transaction that just wrote the
// approval.requested event it may be reacting to.
func hasPendingApproval(ctx context.Context, q execer, workspaceID, column, entityID string) (bool, error) {
	if entityID == "" {
		return false, nil
	}
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT count(*) FROM approvals
		WHERE workspace_id = $1 AND `+column+` = $2 AND status IN ($3, $4)
	`, workspaceID, entityID, domain.ApprovalStatusPending, domain.ApprovalStatusHeld).Scan(&n)
	return n > 0, err
}
