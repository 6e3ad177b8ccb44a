package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/trust"
)

// AutonomyRecommendationStore persists autonomy recommendations,
// implementing trust.RecommendationStore. internal/approval's
// ApproveRecommendation reads and updates the same table directly by raw
// SQL rather than through this store (see DESIGN.md on that divergence,
// shared with internal/approval's other tables).
type AutonomyRecommendationStore struct {
	db *sql.DB
}

var _ trust.RecommendationStore = (*AutonomyRecommendationStore)(nil)

// NewAutonomyRecommendationStore constructs a Postgres-backed
// recommendation store.
func NewAutonomyRecommendationStore(db *sql.DB) *AutonomyRecommendationStore {
	return &AutonomyRecommendationStore{db: db}
}

// EnsureSchema creates the autonomy_recommendations table if it does not
// already exist.
func (s *AutonomyRecommendationStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS autonomy_recommendations (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			scope_delta JSONB NOT NULL,
			trust_before DOUBLE PRECISION NOT NULL,
			trust_after DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			token_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			decided_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_autonomy_recommendations_agent
			ON autonomy_recommendations (workspace_id, agent_id, status);
	`)
	return err
}

// Insert implements trust.RecommendationStore.
func (s *AutonomyRecommendationStore) Insert(ctx context.Context, rec domain.AutonomyRecommendation) error {
	scopeDelta, err := json.Marshal(rec.ScopeDelta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO autonomy_recommendations (
			id, workspace_id, agent_id, scope_delta, trust_before, trust_after, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.WorkspaceID, rec.AgentID, scopeDelta, rec.TrustBefore, rec.TrustAfter, rec.Status, rec.CreatedAt)
	return err
}
