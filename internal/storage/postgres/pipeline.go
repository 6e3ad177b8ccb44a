package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/pipeline"
)

// PipelineStore reads and writes the pipeline_snapshots table maintained
// by the pipeline projector (C10), implementing pipeline.SnapshotStore.
// Page uses sqlx struct-scanning against domain.PipelineSnapshotRow's `db`
// tags: every column maps onto a flat field, the same shape the envelope
// and streaming endpoints hand straight back to callers as JSON.
type PipelineStore struct {
	db   *sql.DB
	sqlx *sqlx.DB
}

var _ pipeline.SnapshotStore = (*PipelineStore)(nil)

// NewPipelineStore constructs a Postgres-backed pipeline snapshot store.
func NewPipelineStore(db *sql.DB) *PipelineStore {
	return &PipelineStore{db: db, sqlx: sqlx.NewDb(db, "postgres")}
}

// EnsureSchema creates the pipeline_snapshots table if it does not
// already exist.
func (s *PipelineStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_snapshots (
			workspace_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			diagnostic TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_event_id TEXT NOT NULL,
			PRIMARY KEY (workspace_id, entity_type, entity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_pipeline_snapshots_page
			ON pipeline_snapshots (workspace_id, updated_at, entity_type, entity_id);
	`)
	return err
}

// Upsert implements pipeline.SnapshotStore.
func (s *PipelineStore) Upsert(ctx context.Context, row domain.PipelineSnapshotRow) error {
	return upsertPipelineSnapshot(ctx, s.db, row)
}

// upsertPipelineSnapshot takes an execer so the pipeline projector can
// write the resolved stage inside the same transaction as the event
// that triggered the recompute.
func upsertPipelineSnapshot(ctx context.Context, q execer, row domain.PipelineSnapshotRow) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pipeline_snapshots (
			workspace_id, entity_type, entity_id, stage, diagnostic, updated_at, last_event_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workspace_id, entity_type, entity_id) DO UPDATE SET
			stage = EXCLUDED.stage, diagnostic = EXCLUDED.diagnostic,
			updated_at = EXCLUDED.updated_at, last_event_id = EXCLUDED.last_event_id
	`, row.WorkspaceID, row.EntityType, row.EntityID, row.Stage, row.Diagnostic, row.UpdatedAt, row.LastEventID)
	return err
}

// Page implements pipeline.SnapshotStore: rows ordered by
// (updated_at, entity_type, entity_id) ascending, the pagination cursor's
// total order.
func (s *PipelineStore) Page(ctx context.Context, workspaceID string, after *pipeline.Cursor, limit int) ([]domain.PipelineSnapshotRow, error) {
	var out []domain.PipelineSnapshotRow
	if after == nil {
		err := s.sqlx.SelectContext(ctx, &out, `
			SELECT workspace_id, entity_type, entity_id, stage, diagnostic, updated_at, last_event_id
			FROM pipeline_snapshots WHERE workspace_id = $1
			ORDER BY updated_at, entity_type, entity_id LIMIT $2
		`, workspaceID, limit)
		return out, err
	}
	err := s.sqlx.SelectContext(ctx, &out, `
		SELECT workspace_id, entity_type, entity_id, stage, diagnostic, updated_at, last_event_id
		FROM pipeline_snapshots
		WHERE workspace_id = $1 AND (updated_at, entity_type, entity_id) > ($2, $3, $4)
		ORDER BY updated_at, entity_type, entity_id LIMIT $5
	`, workspaceID, after.UpdatedAt, after.EntityType, after.EntityID, limit)
	return out, err
}

// WatermarkEventID implements pipeline.SnapshotStore: the last_event_id
// of the most recently updated snapshot row, a proxy for how fresh the
// projection is relative to the event log.
func (s *PipelineStore) WatermarkEventID(ctx context.Context, workspaceID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_event_id FROM pipeline_snapshots
		WHERE workspace_id = $1 ORDER BY updated_at DESC LIMIT 1
	`, workspaceID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// txSnapshotStore binds Upsert to a transaction so the pipeline
// projector's recompute participates in the same transaction as the
// event that triggered it. Page and WatermarkEventID are not used by the
// projector: WatermarkEventID reads through the same transaction, and Page
// returns sql.ErrTxDone without querying.
type txSnapshotStore struct {
	tx *sql.Tx
}

var _ pipeline.SnapshotStore = (*txSnapshotStore)(nil)

func (s *txSnapshotStore) Upsert(ctx context.Context, row domain.PipelineSnapshotRow) error {
	return upsertPipelineSnapshot(ctx, s.tx, row)
}

func (s *txSnapshotStore) Page(ctx context.Context, workspaceID string, after *pipeline.Cursor, limit int) ([]domain.PipelineSnapshotRow, error) {
	return nil, sql.ErrTxDone
}

func (s *txSnapshotStore) WatermarkEventID(ctx context.Context, workspaceID string) (string, error) {
	var id sql.NullString
	err := s.tx.QueryRowContext(ctx, `
		SELECT last_event_id FROM pipeline_snapshots
		WHERE workspace_id = $1 ORDER BY updated_at DESC LIMIT 1
	`, workspaceID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id.String, err
}

// TxSnapshotStore wraps tx as a pipeline.SnapshotStore, for use by the
// pipeline projector inside Apply.
func TxSnapshotStore(tx *sql.Tx) pipeline.SnapshotStore {
	return &txSnapshotStore{tx: tx}
}
