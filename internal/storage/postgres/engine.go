package postgres

import (
	"context"
	"database/sql"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/engine"
)

// EngineStore reads the engines table maintained by the engine
// projector, implementing engine.Store.
type EngineStore struct {
	db *sql.DB
}

var _ engine.Store = (*EngineStore)(nil)

// NewEngineStore constructs a Postgres-backed engine reader.
func NewEngineStore(db *sql.DB) *EngineStore {
	return &EngineStore{db: db}
}

// EnsureSchema creates the engines table if it does not already exist.
func (s *EngineStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS engines (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			deactivated_at TIMESTAMPTZ
		);
	`)
	return err
}

// Get implements engine.Store.
func (s *EngineStore) Get(ctx context.Context, workspaceID, engineID string) (domain.Engine, error) {
	var e domain.Engine
	var deactivatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, principal_id, name, created_at, deactivated_at
		FROM engines WHERE workspace_id = $1 AND id = $2
	`, workspaceID, engineID).Scan(&e.ID, &e.WorkspaceID, &e.PrincipalID, &e.Name, &e.CreatedAt, &deactivatedAt)
	if err != nil {
		return domain.Engine{}, err
	}
	if deactivatedAt.Valid {
		e.DeactivatedAt = &deactivatedAt.Time
	}
	return e, nil
}
