package projector

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
)

// NewEngineProjector maintains the engines table and cascades a
// deactivation into revoking every capability token held by the
// engine's principal, within the same transaction.
func NewEngineProjector() *Projector {
	return &Projector{
		Name:  "engineProjector",
		Kinds: []EventKind{EventEngineRegistered, EventEngineDeactivated},
		Apply: applyEngine,
	}
}

func applyEngine(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventEngineRegistered:
		return applyEngineRegistered(ctx, tx, env)
	case EventEngineDeactivated:
		return applyEngineDeactivated(ctx, tx, env)
	}
	return nil
}

func applyEngineRegistered(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	name, _ := env.Data["name"].(string)
	principalID, _ := env.Data["principal_id"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO engines (id, workspace_id, principal_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["engine_id"], env.WorkspaceID, principalID, name, env.OccurredAt)
	return err
}

func applyEngineDeactivated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	principalID, _ := env.Data["principal_id"].(string)

	if _, err := tx.ExecContext(ctx, `
		UPDATE engines SET deactivated_at = $1 WHERE id = $2 AND deactivated_at IS NULL
	`, env.OccurredAt, env.Data["engine_id"]); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE capability_tokens SET revoked_at = $1 WHERE workspace_id = $2 AND principal_id = $3 AND revoked_at IS NULL
	`, env.OccurredAt, env.WorkspaceID, principalID)
	return err
}
