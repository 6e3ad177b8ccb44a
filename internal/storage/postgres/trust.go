package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/trust"
)

// TrustStore persists the current agent_trust row, implementing
// trust.Store.
type TrustStore struct {
	db *sql.DB
}

var _ trust.Store = (*TrustStore)(nil)

// NewTrustStore constructs a Postgres-backed trust store.
func NewTrustStore(db *sql.DB) *TrustStore {
	return &TrustStore{db: db}
}

// EnsureSchema creates the agent_trust table if it does not already exist.
// The primary key is agent_id alone (not (agent_id, workspace_id)): an agent
// belongs to exactly one workspace, and the agent projector's own
// ON CONFLICT (agent_id) upsert (run whenever a trust-changed event is
// applied through the registry) must target the same uniqueness this store
// enforces.
func (s *TrustStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_trust (
			agent_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			components JSONB,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// Get implements trust.Store.
func (s *TrustStore) Get(ctx context.Context, workspaceID, agentID string) (domain.AgentTrust, error) {
	var t domain.AgentTrust
	var components []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, workspace_id, score, components, updated_at FROM agent_trust
		WHERE workspace_id = $1 AND agent_id = $2
	`, workspaceID, agentID).Scan(&t.AgentID, &t.WorkspaceID, &t.Score, &components, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.AgentTrust{AgentID: agentID, WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return domain.AgentTrust{}, err
	}
	if len(components) > 0 {
		_ = json.Unmarshal(components, &t.Components)
	}
	return t, nil
}

// Upsert implements trust.Store.
func (s *TrustStore) Upsert(ctx context.Context, row domain.AgentTrust) error {
	components, _ := json.Marshal(row.Components)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_trust (agent_id, workspace_id, score, components, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id, score = EXCLUDED.score,
			components = EXCLUDED.components, updated_at = EXCLUDED.updated_at
	`, row.AgentID, row.WorkspaceID, row.Score, components, row.UpdatedAt)
	return err
}

// EventSignalSources derives trust components from the raw event log,
// implementing trust.SignalSources. Success rate and policy-violation
// counts read the events table directly rather than maintaining their own
// rolling-window projection; at current workspace scale a 7-day scan is
// cheap and always consistent with what's actually been appended.
type EventSignalSources struct {
	db *sql.DB
}

var _ trust.SignalSources = (*EventSignalSources)(nil)

// NewEventSignalSources constructs an event-log-backed trust signal
// source.
func NewEventSignalSources(db *sql.DB) *EventSignalSources {
	return &EventSignalSources{db: db}
}

// SuccessRate7d implements trust.SignalSources: completed-run outcomes
// attributed to the agent over the trailing 7 days.
func (s *EventSignalSources) SuccessRate7d(ctx context.Context, workspaceID, agentID string) (float64, error) {
	var succeeded, failed int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE event_type = 'run.completed'),
			count(*) FILTER (WHERE event_type = 'run.failed')
		FROM events
		WHERE workspace_id = $1 AND actor_id = $2
		  AND event_type IN ('run.completed', 'run.failed')
		  AND occurred_at >= now() - interval '7 days'
	`, workspaceID, agentID).Scan(&succeeded, &failed)
	if err != nil {
		return 0, err
	}
	total := succeeded + failed
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

// PolicyViolations7d implements trust.SignalSources: policy-denied
// decisions attributed to the agent over the trailing 7 days.
func (s *EventSignalSources) PolicyViolations7d(ctx context.Context, workspaceID, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM events
		WHERE workspace_id = $1 AND actor_id = $2 AND event_type = 'policy.denied'
		  AND occurred_at >= now() - interval '7 days'
	`, workspaceID, agentID).Scan(&n)
	return n, err
}

// UserFeedbackScore implements trust.SignalSources: the mean of any
// explicit feedback scores recorded for the agent over the trailing 7
// days, defaulting to a neutral 0.5 when none exist.
func (s *EventSignalSources) UserFeedbackScore(ctx context.Context, workspaceID, agentID string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT avg((data->>'score')::float8) FROM events
		WHERE workspace_id = $1 AND data->>'agent_id' = $2 AND event_type = 'feedback.recorded'
		  AND occurred_at >= now() - interval '7 days'
	`, workspaceID, agentID).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0.5, nil
	}
	return avg.Float64, nil
}

// TimeInServiceDays implements trust.SignalSources: days since the
// agent's registration event.
func (s *EventSignalSources) TimeInServiceDays(ctx context.Context, workspaceID, agentID string, now time.Time) (int, error) {
	var registeredAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT occurred_at FROM events
		WHERE workspace_id = $1 AND data->>'agent_id' = $2 AND event_type = 'agent.registered'
		ORDER BY occurred_at ASC LIMIT 1
	`, workspaceID, agentID).Scan(&registeredAt)
	if err == sql.ErrNoRows || !registeredAt.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	days := int(now.Sub(registeredAt.Time).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, nil
}
