package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/agentctl/core/internal/domain"
)

// CapabilityStore reads the capability_tokens table maintained by the
// capability projector. Lookups here are consumed by the contract layer
// to resolve policy.Request.Token for an authenticated principal before
// calling the policy engine, which does no storage lookups of its own.
type CapabilityStore struct {
	db *sql.DB
}

// NewCapabilityStore constructs a Postgres-backed capability token reader.
func NewCapabilityStore(db *sql.DB) *CapabilityStore {
	return &CapabilityStore{db: db}
}

// EnsureSchema creates the capability_tokens table if it does not already
// exist.
func (s *CapabilityStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS capability_tokens (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			issued_by_id TEXT NOT NULL,
			scope JSONB NOT NULL,
			valid_until TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			parent_token_id TEXT,
			last_event_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_capability_tokens_principal
			ON capability_tokens (workspace_id, principal_id) WHERE revoked_at IS NULL;
	`)
	return err
}

// ActiveForPrincipal returns every non-revoked, non-expired token issued to
// the principal. A principal may accumulate several active tokens over
// successive autonomy approvals; the contract layer merges their scopes
// before building a policy.Request.
func (s *CapabilityStore) ActiveForPrincipal(ctx context.Context, workspaceID, principalID string) ([]domain.CapabilityToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, principal_id, issued_by_id, scope, valid_until, revoked_at, parent_token_id, created_at
		FROM capability_tokens
		WHERE workspace_id = $1 AND principal_id = $2 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, workspaceID, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CapabilityToken
	for rows.Next() {
		t, err := scanCapabilityToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get implements a single-token lookup, used to verify a token id carried
// on a request still resolves to a live grant.
func (s *CapabilityStore) Get(ctx context.Context, workspaceID, tokenID string) (domain.CapabilityToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, principal_id, issued_by_id, scope, valid_until, revoked_at, parent_token_id, created_at
		FROM capability_tokens WHERE workspace_id = $1 AND id = $2
	`, workspaceID, tokenID)
	return scanCapabilityToken(row)
}

func scanCapabilityToken(row rowScanner) (domain.CapabilityToken, error) {
	var t domain.CapabilityToken
	var parentTokenID sql.NullString
	var validUntil, revokedAt sql.NullTime
	var scope []byte

	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.PrincipalID, &t.IssuedByID, &scope,
		&validUntil, &revokedAt, &parentTokenID, &t.CreatedAt); err != nil {
		return domain.CapabilityToken{}, err
	}

	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &t.Scope); err != nil {
			return domain.CapabilityToken{}, err
		}
	}
	if validUntil.Valid {
		t.ValidUntil = &validUntil.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	t.ParentTokenID = parentTokenID.String
	return t, nil
}
