package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/evidence"
)

// EvidenceStore reads the evidence_manifests table maintained by the
// evidence projector, implementing evidence.Store.
type EvidenceStore struct {
	db *sql.DB
}

var _ evidence.Store = (*EvidenceStore)(nil)

// NewEvidenceStore constructs a Postgres-backed evidence reader.
func NewEvidenceStore(db *sql.DB) *EvidenceStore {
	return &EvidenceStore{db: db}
}

// EnsureSchema creates the evidence_manifests and scorecards tables if
// they do not already exist.
func (s *EvidenceStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS evidence_manifests (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_evidence_run ON evidence_manifests (workspace_id, run_id);

		CREATE TABLE IF NOT EXISTS scorecards (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			run_id TEXT,
			evidence_id TEXT,
			decision TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scorecards_run ON scorecards (workspace_id, run_id);
	`)
	return err
}

// Get implements evidence.Store.
func (s *EvidenceStore) Get(ctx context.Context, workspaceID, evidenceID string) (domain.EvidenceManifest, error) {
	var m domain.EvidenceManifest
	var payload []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, status, payload, created_at, updated_at
		FROM evidence_manifests WHERE workspace_id = $1 AND id = $2
	`, workspaceID, evidenceID).Scan(&m.ID, &m.WorkspaceID, &m.RunID, &m.Status, &payload, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.EvidenceManifest{}, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &m.Payload)
	}
	return m, nil
}

// LatestForRun returns the most recently created evidence manifest bound
// to runID, used by the pipeline projector to resolve
// latest_evidence_status.
func (s *EvidenceStore) LatestForRun(ctx context.Context, workspaceID, runID string) (domain.EvidenceManifest, bool, error) {
	return latestEvidenceForRun(ctx, s.db, workspaceID, runID)
}

// LatestScorecardForRun returns the most recently recorded scorecard
// bound to runID.
func (s *EvidenceStore) LatestScorecardForRun(ctx context.Context, workspaceID, runID string) (domain.Scorecard, bool, error) {
	return latestScorecardForRun(ctx, s.db, workspaceID, runID)
}

// latestEvidenceForRun and latestScorecardForRun take an execer rather
// than a *sql.DB so the pipeline projector can call them bound to the
// same transaction as the triggering event, seeing its own uncommitted
// write.
func latestEvidenceForRun(ctx context.Context, q execer, workspaceID, runID string) (domain.EvidenceManifest, bool, error) {
	var m domain.EvidenceManifest
	var payload []byte

	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, status, payload, created_at, updated_at
		FROM evidence_manifests WHERE workspace_id = $1 AND run_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, workspaceID, runID).Scan(&m.ID, &m.WorkspaceID, &m.RunID, &m.Status, &payload, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.EvidenceManifest{}, false, nil
	}
	if err != nil {
		return domain.EvidenceManifest{}, false, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &m.Payload)
	}
	return m, true, nil
}

func latestScorecardForRun(ctx context.Context, q execer, workspaceID, runID string) (domain.Scorecard, bool, error) {
	var sc domain.Scorecard
	var runIDCol, evidenceIDCol sql.NullString
	var payload []byte

	err := q.QueryRowContext(ctx, `
		SELECT id, workspace_id, run_id, evidence_id, decision, payload, created_at
		FROM scorecards WHERE workspace_id = $1 AND run_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, workspaceID, runID).Scan(&sc.ID, &sc.WorkspaceID, &runIDCol, &evidenceIDCol, &sc.Decision, &payload, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Scorecard{}, false, nil
	}
	if err != nil {
		return domain.Scorecard{}, false, err
	}
	sc.RunID, sc.EvidenceID = runIDCol.String, evidenceIDCol.String
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &sc.Payload)
	}
	return sc, true, nil
}
