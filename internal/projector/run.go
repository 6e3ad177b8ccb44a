package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// NewRunProjector materializes the runs and steps tables from
// run.created/started/completed/failed and step.created events.
func NewRunProjector() *Projector {
	return &Projector{
		Name:  "runProjector",
		Kinds: []EventKind{EventRunCreated, EventRunStarted, EventRunCompleted, EventRunFailed, EventStepCreated},
		Apply: applyRun,
	}
}

func applyRun(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventRunCreated:
		return applyRunCreated(ctx, tx, env)
	case EventRunStarted:
		return applyRunStarted(ctx, tx, env)
	case EventRunCompleted:
		return applyRunTerminal(ctx, tx, env, domain.RunStatusSucceeded)
	case EventRunFailed:
		return applyRunTerminal(ctx, tx, env, domain.RunStatusFailed)
	case EventStepCreated:
		return applyStepCreated(ctx, tx, env)
	}
	return nil
}

func applyRunCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	title, _ := env.Data["title"].(string)
	goal, _ := env.Data["goal"].(string)
	input, _ := json.Marshal(env.Data["input"])

	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, workspace_id, room_id, thread_id, experiment_id,
			title, goal, input, status, correlation_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (id) DO NOTHING
	`, env.Scope.RunID, env.WorkspaceID, env.Scope.RoomID, env.Scope.ThreadID, env.Scope.ExperimentID,
		title, goal, input, domain.RunStatusQueued, env.CorrelationID, env.OccurredAt)
	return err
}

func applyRunStarted(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	claimToken, _ := env.Data["claim_token"].(string)
	_, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, claimed_by_actor_id = $2, claim_token = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, domain.RunStatusRunning, env.Actor.ID, claimToken, env.OccurredAt, env.Scope.RunID, domain.RunStatusQueued)
	return err
}

func applyRunTerminal(ctx context.Context, tx *sql.Tx, env domain.Envelope, status domain.RunStatus) error {
	output, _ := json.Marshal(env.Data["output"])
	errMsg, _ := env.Data["error"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, output = $2, error = $3, updated_at = $4
		WHERE id = $5 AND status NOT IN ($6, $7)
	`, status, output, errMsg, env.OccurredAt, env.Scope.RunID, domain.RunStatusSucceeded, domain.RunStatusFailed)
	return err
}

func applyStepCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["step_id"].(string)
	name, _ := env.Data["name"].(string)
	stepStatus, _ := env.Data["status"].(string)
	data, _ := json.Marshal(env.Data["data"])

	_, err := tx.ExecContext(ctx, `
		INSERT INTO steps (id, run_id, name, status, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, id, env.Scope.RunID, name, stepStatus, data, env.OccurredAt)
	return err
}
