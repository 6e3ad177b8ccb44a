package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/skills"
)

// SkillStore implements skills.PackageStore and skills.AssessmentStore
// over a shared connection pool.
type SkillStore struct {
	db *sql.DB
}

var (
	_ skills.PackageStore    = (*SkillStore)(nil)
	_ skills.AssessmentStore = (*SkillStore)(nil)
	_ skills.AgentSkillStore = (*AgentSkillStore)(nil)
)

// NewSkillStore constructs a Postgres-backed skills ledger store.
func NewSkillStore(db *sql.DB) *SkillStore {
	return &SkillStore{db: db}
}

// EnsureSchema creates the skill_packages, skill_assessments, and
// agent_skills tables if they do not already exist.
func (s *SkillStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS skill_packages (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			agent_id TEXT,
			skill_name TEXT NOT NULL,
			version TEXT,
			hash TEXT,
			signature TEXT,
			manifest JSONB,
			status TEXT NOT NULL,
			reason TEXT,
			imported_at TIMESTAMPTZ NOT NULL,
			decided_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_skill_packages_agent_skill ON skill_packages (workspace_id, agent_id, skill_name);

		CREATE TABLE IF NOT EXISTS skill_assessments (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			skill_name TEXT NOT NULL,
			status TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_skills (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			skill_name TEXT NOT NULL,
			level INTEGER NOT NULL DEFAULT 0,
			usage_total INTEGER NOT NULL DEFAULT 0,
			usage_7d INTEGER NOT NULL DEFAULT 0,
			usage_30d INTEGER NOT NULL DEFAULT 0,
			assessment_total INTEGER NOT NULL DEFAULT 0,
			assessment_passed INTEGER NOT NULL DEFAULT 0,
			impact_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_primary BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (workspace_id, agent_id, skill_name)
		);
	`)
	return err
}

// Get implements skills.PackageStore.
func (s *SkillStore) Get(ctx context.Context, workspaceID, packageID string) (domain.SkillPackage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, agent_id, skill_name, version, hash, signature, manifest, status, reason, imported_at, updated_at
		FROM skill_packages WHERE workspace_id = $1 AND id = $2
	`, workspaceID, packageID)
	return scanSkillPackage(row)
}

func scanSkillPackage(row rowScanner) (domain.SkillPackage, error) {
	var p domain.SkillPackage
	var agentID, version, signature, reason sql.NullString
	var manifest []byte

	err := row.Scan(&p.ID, &p.WorkspaceID, &agentID, &p.SkillName, &version, &p.Hash, &signature, &manifest, &p.Status, &reason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.SkillPackage{}, err
	}
	p.Version, p.Signature, p.Reason = version.String, signature.String, reason.String
	_ = agentID
	if len(manifest) > 0 {
		var m domain.SkillManifest
		if err := json.Unmarshal(manifest, &m); err == nil {
			p.Manifest = &m
		}
	}
	return p, nil
}

// Upsert implements skills.PackageStore.
func (s *SkillStore) Upsert(ctx context.Context, pkg domain.SkillPackage) error {
	manifest, _ := json.Marshal(pkg.Manifest)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_packages (
			id, workspace_id, agent_id, skill_name, version, hash, signature, manifest, status, reason, imported_at, decided_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, reason = EXCLUDED.reason, signature = EXCLUDED.signature,
			manifest = EXCLUDED.manifest, decided_at = EXCLUDED.imported_at, updated_at = EXCLUDED.imported_at
	`, pkg.ID, pkg.WorkspaceID, sql.NullString{}, pkg.SkillName, pkg.Version, pkg.Hash,
		toNullString(pkg.Signature), manifest, pkg.Status, toNullString(pkg.Reason), pkg.UpdatedAt)
	return err
}

// ListByAgentSkill implements skills.PackageStore. A skill package install
// isn't itself agent-scoped (it's a workspace-wide version ledger entry),
// so the agentID parameter is accepted for interface parity but unused,
// matching the in-memory fake used in tests.
func (s *SkillStore) ListByAgentSkill(ctx context.Context, workspaceID, agentID, skillName string) ([]domain.SkillPackage, error) {
	_ = agentID
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, agent_id, skill_name, version, hash, signature, manifest, status, reason, imported_at, updated_at
		FROM skill_packages WHERE workspace_id = $1 AND skill_name = $2
		ORDER BY imported_at DESC
	`, workspaceID, skillName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SkillPackage
	for rows.Next() {
		p, err := scanSkillPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Insert implements skills.AssessmentStore.
func (s *SkillStore) Insert(ctx context.Context, a domain.SkillAssessment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_assessments (id, workspace_id, agent_id, skill_name, status, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.WorkspaceID, a.AgentID, a.SkillName, a.Status, a.Score, a.CreatedAt)
	return err
}

// HasAny implements skills.AssessmentStore.
func (s *SkillStore) HasAny(ctx context.Context, workspaceID, agentID, skillName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM skill_assessments WHERE workspace_id = $1 AND agent_id = $2 AND skill_name = $3
	`, workspaceID, agentID, skillName).Scan(&n)
	return n > 0, err
}

// AgentSkillStore implements skills.AgentSkillStore over a shared
// connection pool. It is a distinct type from SkillStore because the
// interface it satisfies reuses the method names Get/Upsert with
// different signatures than skills.PackageStore's. Reads use sqlx's
// struct-scanning (domain.AgentSkill carries `db` tags matching every
// column) since the row has no JSONB column requiring bespoke unmarshal,
// unlike SkillStore's manifest column above.
type AgentSkillStore struct {
	db   *sql.DB
	sqlx *sqlx.DB
}

// NewAgentSkillStore constructs a Postgres-backed per-agent skill ledger.
func NewAgentSkillStore(db *sql.DB) *AgentSkillStore {
	return &AgentSkillStore{db: db, sqlx: sqlx.NewDb(db, "postgres")}
}

// Get implements skills.AgentSkillStore.
func (s *AgentSkillStore) Get(ctx context.Context, workspaceID, agentID, skillName string) (domain.AgentSkill, error) {
	var a domain.AgentSkill
	err := s.sqlx.GetContext(ctx, &a, `
		SELECT id, workspace_id, agent_id, skill_name, level, usage_total, usage_7d, usage_30d,
		       assessment_total, assessment_passed, impact_score, is_primary, updated_at
		FROM agent_skills WHERE workspace_id = $1 AND agent_id = $2 AND skill_name = $3
	`, workspaceID, agentID, skillName)
	return a, err
}

// Upsert implements skills.AgentSkillStore.
func (s *AgentSkillStore) Upsert(ctx context.Context, row domain.AgentSkill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_skills (
			id, workspace_id, agent_id, skill_name, level, usage_total, usage_7d, usage_30d,
			assessment_total, assessment_passed, impact_score, is_primary, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workspace_id, agent_id, skill_name) DO UPDATE SET
			level = EXCLUDED.level, usage_total = EXCLUDED.usage_total, usage_7d = EXCLUDED.usage_7d,
			usage_30d = EXCLUDED.usage_30d, assessment_total = EXCLUDED.assessment_total,
			assessment_passed = EXCLUDED.assessment_passed, impact_score = EXCLUDED.impact_score,
			is_primary = EXCLUDED.is_primary, updated_at = EXCLUDED.updated_at
	`, row.ID, row.WorkspaceID, row.AgentID, row.SkillName, row.Level, row.UsageTotal, row.Usage7d, row.Usage30d,
		row.AssessmentTotal, row.AssessmentPassed, row.ImpactScore, row.IsPrimary, row.UpdatedAt)
	return err
}

// ListForAgent implements skills.AgentSkillStore.
func (s *AgentSkillStore) ListForAgent(ctx context.Context, workspaceID, agentID string) ([]domain.AgentSkill, error) {
	var out []domain.AgentSkill
	err := s.sqlx.SelectContext(ctx, &out, `
		SELECT id, workspace_id, agent_id, skill_name, level, usage_total, usage_7d, usage_30d,
		       assessment_total, assessment_passed, impact_score, is_primary, updated_at
		FROM agent_skills WHERE workspace_id = $1 AND agent_id = $2
	`, workspaceID, agentID)
	return out, err
}

// ClearPrimary implements skills.AgentSkillStore.
func (s *AgentSkillStore) ClearPrimary(ctx context.Context, workspaceID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_skills SET is_primary = false WHERE workspace_id = $1 AND agent_id = $2 AND is_primary
	`, workspaceID, agentID)
	return err
}

// SetPrimary implements skills.AgentSkillStore.
func (s *AgentSkillStore) SetPrimary(ctx context.Context, workspaceID, agentID, skillName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_skills SET is_primary = true WHERE workspace_id = $1 AND agent_id = $2 AND skill_name = $3
	`, workspaceID, agentID, skillName)
	return err
}
