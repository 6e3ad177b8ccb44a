package postgres

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/agent"
	"github.com/agentctl/core/internal/domain"
)

// AgentStore reads the agents table maintained by the agent projector,
// implementing agent.Store.
type AgentStore struct {
	db *sql.DB
}

var _ agent.Store = (*AgentStore)(nil)

// NewAgentStore constructs a Postgres-backed agent reader.
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

// EnsureSchema creates the agents table if it does not already exist.
func (s *AgentStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			quarantined_at TIMESTAMPTZ,
			quarantine_reason TEXT,
			revoked_at TIMESTAMPTZ
		);
	`)
	return err
}

// Get implements agent.Store.
func (s *AgentStore) Get(ctx context.Context, workspaceID, agentID string) (domain.Agent, error) {
	var a domain.Agent
	var quarantinedAt, revokedAt sql.NullTime
	var quarantineReason sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, principal_id, display_name, created_at, quarantined_at, quarantine_reason, revoked_at
		FROM agents WHERE workspace_id = $1 AND id = $2
	`, workspaceID, agentID).Scan(
		&a.ID, &a.WorkspaceID, &a.PrincipalID, &a.DisplayName, &a.CreatedAt,
		&quarantinedAt, &quarantineReason, &revokedAt,
	)
	if err != nil {
		return domain.Agent{}, err
	}
	if quarantinedAt.Valid {
		a.QuarantinedAt = &quarantinedAt.Time
	}
	if revokedAt.Valid {
		a.RevokedAt = &revokedAt.Time
	}
	a.QuarantineReason = quarantineReason.String
	return a, nil
}
