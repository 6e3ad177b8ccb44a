package projector

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
)

// NewSkillProjector maintains the skill_packages table and the per-agent
// import ledger (C6): import inserts the package row at its decided
// status, and the paired verified/quarantined events keep status and
// reason in sync for replays and late reviews.
func NewSkillProjector() *Projector {
	return &Projector{
		Name:  "skillProjector",
		Kinds: []EventKind{EventSkillImported, EventSkillVerified, EventSkillQuarantined},
		Apply: applySkill,
	}
}

func applySkill(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch EventKind(env.EventType) {
	case EventSkillImported:
		return applySkillImported(ctx, tx, env)
	case EventSkillVerified, EventSkillQuarantined:
		return applySkillStatusChanged(ctx, tx, env)
	}
	return nil
}

func applySkillImported(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	status, _ := env.Data["status"].(string)
	version, _ := env.Data["version"].(string)
	skillName, _ := env.Data["skill_name"].(string)
	agentID, _ := env.Data["agent_id"].(string)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO skill_packages (
			id, workspace_id, agent_id, skill_name, version, status, imported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, env.Data["package_id"], env.WorkspaceID, agentID, skillName, version, status, env.OccurredAt)
	return err
}

func applySkillStatusChanged(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	status := domain.SkillStatusVerified
	if EventKind(env.EventType) == EventSkillQuarantined {
		status = domain.SkillStatusQuarantined
	}
	reason, _ := env.Data["reason"].(string)

	_, err := tx.ExecContext(ctx, `
		UPDATE skill_packages
		SET status = $1, reason = $2, decided_at = $3
		WHERE id = $4
	`, status, reason, env.OccurredAt, env.Data["package_id"])
	return err
}
