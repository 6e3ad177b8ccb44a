package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// NewIncidentProjector maintains rca_updated_at and learning_count on
// incidents, gating the close event's own preconditions in the domain
// layer (C9) rather than here.
func NewIncidentProjector() *Projector {
	return &Projector{
		Name:  "incidentProjector",
		Kinds: []EventKind{EventIncidentOpened, EventIncidentRCAUpdated, EventIncidentLearningLogged, EventIncidentClosed},
		Apply: applyIncident,
	}
}

func applyIncident(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventIncidentOpened:
		return applyIncidentOpened(ctx, tx, env)
	case EventIncidentRCAUpdated:
		return applyIncidentRCAUpdated(ctx, tx, env)
	case EventIncidentLearningLogged:
		return applyIncidentLearningLogged(ctx, tx, env)
	case EventIncidentClosed:
		return applyIncidentClosed(ctx, tx, env)
	}
	return nil
}

func applyIncidentOpened(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	severity, _ := env.Data["severity"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (
			id, workspace_id, run_id, room_id, thread_id, correlation_id,
			severity, status, learning_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["incident_id"], env.WorkspaceID, env.Scope.RunID, env.Scope.RoomID, env.Scope.ThreadID,
		env.CorrelationID, severity, domain.IncidentStatusOpen, env.OccurredAt)
	return err
}

func applyIncidentRCAUpdated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	rca, _ := json.Marshal(env.Data["rca"])

	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET rca = $1, rca_updated_at = $2
		WHERE id = $3 AND status = $4
	`, rca, env.OccurredAt, env.Data["incident_id"], domain.IncidentStatusOpen)
	return err
}

func applyIncidentLearningLogged(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	note, _ := env.Data["note"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET learnings = COALESCE(learnings, '[]'::jsonb) || jsonb_build_array(jsonb_build_object('note', $1::text, 'logged_at', $2::timestamptz, 'logged_by', $3::text)),
		    learning_count = learning_count + 1
		WHERE id = $4 AND status = $5
	`, note, env.OccurredAt, env.Actor.ID, env.Data["incident_id"], domain.IncidentStatusOpen)
	return err
}

func applyIncidentClosed(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, closed_at = $2
		WHERE id = $3 AND status = $4
	`, domain.IncidentStatusClosed, env.OccurredAt, env.Data["incident_id"], domain.IncidentStatusOpen)
	return err
}
