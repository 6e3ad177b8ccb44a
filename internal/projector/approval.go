package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// NewApprovalProjector maintains status, decided_by, scope snapshot, and
// last_event_id for approval requests. Re-decision on a terminal approval
// is a no-op: the WHERE clause only matches rows still pending or held.
func NewApprovalProjector() *Projector {
	return &Projector{
		Name:  "approvalProjector",
		Kinds: []EventKind{EventApprovalRequested, EventApprovalDecided},
		Apply: applyApproval,
	}
}

func applyApproval(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventApprovalRequested:
		return applyApprovalRequested(ctx, tx, env)
	case EventApprovalDecided:
		return applyApprovalDecided(ctx, tx, env)
	}
	return nil
}

func applyApprovalRequested(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["approval_id"].(string)
	actionCode, _ := env.Data["action_code"].(string)
	scope, _ := env.Data["scope"].(string)
	requestedBy, _ := env.Data["requested_by_id"].(string)
	snapshot, _ := json.Marshal(env.Data["scope_snapshot"])
	runID, _ := env.Data["run_id"].(string)
	roomID, _ := env.Data["room_id"].(string)
	experimentID, _ := env.Data["experiment_id"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO approvals (
			id, workspace_id, action_code, scope, requested_by_id,
			status, scope_snapshot, run_id, room_id, experiment_id, last_event_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, id, env.WorkspaceID, actionCode, scope, requestedBy,
		domain.ApprovalStatusPending, snapshot, nullIfEmpty(runID), nullIfEmpty(roomID), nullIfEmpty(experimentID),
		env.EventID, env.OccurredAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func applyApprovalDecided(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["approval_id"].(string)
	status, _ := env.Data["status"].(string)
	decidedBy, _ := env.Data["decided_by_id"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE approvals
		SET status = $1, decided_by_id = $2, decided_at = $3, last_event_id = $4
		WHERE id = $5 AND status IN ($6, $7)
	`, status, decidedBy, env.OccurredAt, env.EventID, id,
		domain.ApprovalStatusPending, domain.ApprovalStatusHeld)
	return err
}
