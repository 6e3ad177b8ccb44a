package projector

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
)

// NewAgentProjector maintains the agents table's quarantine state and the
// agent_trust history used by the trust subcomponent (C7).
func NewAgentProjector() *Projector {
	return &Projector{
		Name:  "agentProjector",
		Kinds: []EventKind{EventAgentRegistered, EventAgentQuarantined, EventAgentTrustIncreased, EventAgentTrustDecreased},
		Apply: applyAgent,
	}
}

func applyAgent(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventAgentRegistered:
		return applyAgentRegistered(ctx, tx, env)
	case EventAgentQuarantined:
		return applyAgentQuarantined(ctx, tx, env)
	case EventAgentTrustIncreased, EventAgentTrustDecreased:
		return applyAgentTrustChanged(ctx, tx, env)
	}
	return nil
}

func applyAgentRegistered(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	displayName, _ := env.Data["display_name"].(string)
	principalID, _ := env.Data["principal_id"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO agents (id, workspace_id, principal_id, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["agent_id"], env.WorkspaceID, principalID, displayName, env.OccurredAt)
	return err
}

func applyAgentQuarantined(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	reason, _ := env.Data["reason"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE agents
		SET quarantined_at = $1, quarantine_reason = $2
		WHERE id = $3 AND quarantined_at IS NULL
	`, env.OccurredAt, reason, env.Data["agent_id"])
	return err
}

func applyAgentTrustChanged(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	score, _ := env.Data["score"].(float64)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO agent_trust (agent_id, workspace_id, score, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at
		WHERE agent_trust.updated_at <= EXCLUDED.updated_at
	`, env.Data["agent_id"], env.WorkspaceID, score, env.OccurredAt)
	return err
}
