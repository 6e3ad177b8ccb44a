package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// NewEvidenceProjector maintains the evidence_manifests and scorecards
// tables from their lifecycle events. Both tables are consulted by the
// pipeline projector (C10) to resolve an entity's latest evidence status
// and scorecard decision.
func NewEvidenceProjector() *Projector {
	return &Projector{
		Name: "evidenceProjector",
		Kinds: []EventKind{
			EventEvidenceCreated, EventEvidenceUnderReview, EventEvidenceRejected,
			EventScorecardRecorded,
		},
		Apply: applyEvidence,
	}
}

func applyEvidence(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventEvidenceCreated:
		return applyEvidenceCreated(ctx, tx, env)
	case EventEvidenceUnderReview:
		return applyEvidenceStatusChanged(ctx, tx, env, domain.EvidenceStatusUnderReview)
	case EventEvidenceRejected:
		return applyEvidenceStatusChanged(ctx, tx, env, domain.EvidenceStatusRejected)
	case EventScorecardRecorded:
		return applyScorecardRecorded(ctx, tx, env)
	}
	return nil
}

func applyEvidenceCreated(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	payload, _ := json.Marshal(env.Data["payload"])
	_, err := tx.ExecContext(ctx, `
		INSERT INTO evidence_manifests (id, workspace_id, run_id, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["evidence_id"], env.WorkspaceID, env.Scope.RunID, domain.EvidenceStatusCreated, payload, env.OccurredAt)
	return err
}

func applyEvidenceStatusChanged(ctx context.Context, tx *sql.Tx, env domain.Envelope, status domain.EvidenceStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE evidence_manifests SET status = $1, updated_at = $2 WHERE id = $3
	`, status, env.OccurredAt, env.Data["evidence_id"])
	return err
}

func applyScorecardRecorded(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	decision, _ := env.Data["decision"].(string)
	evidenceID, _ := env.Data["evidence_id"].(string)
	payload, _ := json.Marshal(env.Data["payload"])

	_, err := tx.ExecContext(ctx, `
		INSERT INTO scorecards (id, workspace_id, run_id, evidence_id, decision, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["scorecard_id"], env.WorkspaceID, nullIfEmptyScope(env.Scope.RunID), nullIfEmptyScope(evidenceID), decision, payload, env.OccurredAt)
	return err
}

func nullIfEmptyScope(s string) any {
	if s == "" {
		return nil
	}
	return s
}
