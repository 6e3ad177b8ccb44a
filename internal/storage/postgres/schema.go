package postgres

import (
	"context"
	"database/sql"
)

// SupportStore owns the tables written directly by the raw-SQL engines
// (internal/lease, internal/approval, internal/projector's agent
// projector) that have no dedicated store type of their own — these
// engines query *sql.DB/*sql.Tx inline rather than through an injected
// Store interface (see DESIGN.md on that divergence), so there is no
// natural home for their EnsureSchema beyond one shared support file.
type SupportStore struct {
	db *sql.DB
}

// NewSupportStore constructs the schema owner for the raw-SQL engine
// tables.
func NewSupportStore(db *sql.DB) *SupportStore {
	return &SupportStore{db: db}
}

// EnsureSchema creates the agents, approvals, and work_item_leases
// tables used respectively by internal/projector's agent projector,
// internal/approval, and internal/lease.
func (s *SupportStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			principal_id TEXT,
			display_name TEXT,
			quarantined_at TIMESTAMPTZ,
			quarantine_reason TEXT,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			action_code TEXT NOT NULL,
			scope TEXT NOT NULL,
			requested_by_id TEXT NOT NULL,
			status TEXT NOT NULL,
			decided_by_id TEXT,
			decided_at TIMESTAMPTZ,
			scope_snapshot JSONB,
			run_id TEXT,
			room_id TEXT,
			experiment_id TEXT,
			last_event_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_workspace_status ON approvals (workspace_id, status);
		CREATE INDEX IF NOT EXISTS idx_approvals_run_pending ON approvals (workspace_id, run_id) WHERE status IN ('pending', 'held');
		CREATE INDEX IF NOT EXISTS idx_approvals_experiment_pending ON approvals (workspace_id, experiment_id) WHERE status IN ('pending', 'held');

		CREATE TABLE IF NOT EXISTS work_item_leases (
			lease_id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			work_item_type TEXT NOT NULL,
			work_item_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			correlation_id TEXT,
			version INTEGER NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL,
			heartbeat_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (workspace_id, work_item_type, work_item_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_work_item_leases_lease_id ON work_item_leases (lease_id);

		CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// ListWorkspaceIDs implements projector.WorkspaceLister.
func (s *SupportStore) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workspaces`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
