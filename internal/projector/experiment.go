package projector

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
)

// NewExperimentProjector maintains experiment rows, including the
// active_run_count snapshot and close reason.
func NewExperimentProjector() *Projector {
	return &Projector{
		Name:  "experimentProjector",
		Kinds: []EventKind{EventExperimentCreated, EventExperimentUpdated, EventExperimentClosed},
		Apply: applyExperiment,
	}
}

func applyExperiment(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventExperimentCreated:
		return applyExperimentCreated(ctx, tx, env)
	case EventExperimentUpdated:
		return applyExperimentUpdated(ctx, tx, env)
	case EventExperimentClosed:
		return applyExperimentClosed(ctx, tx, env)
	}
	return nil
}

func applyExperimentCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	title, _ := env.Data["title"].(string)
	hypothesis, _ := env.Data["hypothesis"].(string)
	successCriteria, _ := env.Data["success_criteria"].(string)
	stopConditions, _ := env.Data["stop_conditions"].(string)
	budgetCap, _ := env.Data["budget_cap_units"].(float64)
	riskTier, _ := env.Data["risk_tier"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO experiments (
			id, workspace_id, room_id, title, hypothesis, success_criteria,
			stop_conditions, budget_cap_units, risk_tier, status, active_run_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)
		ON CONFLICT (id) DO NOTHING
	`, env.Scope.ExperimentID, env.WorkspaceID, env.Scope.RoomID, title, hypothesis, successCriteria,
		stopConditions, budgetCap, riskTier, domain.ExperimentStatusOpen, env.OccurredAt)
	return err
}

func applyExperimentUpdated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	budgetCap, hasBudget := env.Data["budget_cap_units"].(float64)

	_, err := tx.ExecContext(ctx, `
		UPDATE experiments
		SET title = COALESCE(NULLIF($1, ''), title),
		    hypothesis = COALESCE(NULLIF($2, ''), hypothesis),
		    success_criteria = COALESCE(NULLIF($3, ''), success_criteria),
		    stop_conditions = COALESCE(NULLIF($4, ''), stop_conditions),
		    risk_tier = COALESCE(NULLIF($5, ''), risk_tier),
		    budget_cap_units = CASE WHEN $6 THEN $7 ELSE budget_cap_units END,
		    updated_at = $8
		WHERE id = $9 AND status = $10
	`, strOrEmpty(env.Data["title"]), strOrEmpty(env.Data["hypothesis"]), strOrEmpty(env.Data["success_criteria"]),
		strOrEmpty(env.Data["stop_conditions"]), strOrEmpty(env.Data["risk_tier"]), hasBudget, budgetCap,
		env.OccurredAt, env.Scope.ExperimentID, domain.ExperimentStatusOpen)
	return err
}

func applyExperimentClosed(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	status, _ := env.Data["status"].(string)
	reason, _ := env.Data["close_reason"].(string)
	activeRunCount, _ := env.Data["active_run_count"].(float64)

	_, err := tx.ExecContext(ctx, `
		UPDATE experiments
		SET status = $1, close_reason = $2, active_run_count = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, status, reason, int(activeRunCount), env.OccurredAt, env.Scope.ExperimentID, domain.ExperimentStatusOpen)
	return err
}

func strOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}
