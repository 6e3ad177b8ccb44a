package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// NewCapabilityProjector maintains the capability_tokens table granted by
// autonomy approvals and engine/agent registration, and marks a single
// token revoked per revoked event. Revoking every token of a deactivated
// engine's principal is done by the engine projector.
func NewCapabilityProjector() *Projector {
	return &Projector{
		Name:  "capabilityProjector",
		Kinds: []EventKind{EventCapabilityGranted, EventCapabilityRevoked},
		Apply: applyCapability,
	}
}

func applyCapability(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventCapabilityGranted:
		return applyCapabilityGranted(ctx, tx, env)
	case EventCapabilityRevoked:
		return applyCapabilityRevoked(ctx, tx, env)
	}
	return nil
}

func applyCapabilityGranted(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["token_id"].(string)
	principalID, _ := env.Data["principal_id"].(string)
	if principalID == "" {
		principalID, _ = env.Data["agent_id"].(string)
	}

	scope, err := json.Marshal(env.Data["scope"])
	if err != nil {
		return err
	}

	var validUntil any
	if s, ok := env.Data["valid_until"].(string); ok && s != "" {
		validUntil = s
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO capability_tokens (
			id, workspace_id, principal_id, issued_by_id, scope, valid_until, parent_token_id, last_event_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, id, env.WorkspaceID, principalID, env.Actor.ID, scope, validUntil,
		nullIfEmpty(stringField(env.Data, "parent_token_id")), env.EventID, env.OccurredAt)
	return err
}

func applyCapabilityRevoked(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	id, _ := env.Data["token_id"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE capability_tokens SET revoked_at = $1, last_event_id = $2 WHERE id = $3 AND revoked_at IS NULL
	`, env.OccurredAt, env.EventID, id)
	return err
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
