package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/projector"
)

// EventStore implements eventstore.Store backed by Postgres. Idempotency is
// enforced by a unique index on (workspace_id, idempotency_key); a
// duplicate insert is detected via ON CONFLICT DO NOTHING returning no row,
// at which point the original is re-read and returned verbatim. When a
// projector registry is attached, every genuinely new append also applies
// its registered projectors in the same transaction as the insert.
type EventStore struct {
	db         *sql.DB
	projectors *projector.Registry
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore constructs a Postgres-backed event store.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// WithProjectors attaches a projector registry that every new append (not
// an idempotent replay) is applied through, transactionally.
func (s *EventStore) WithProjectors(registry *projector.Registry) *EventStore {
	s.projectors = registry
	return s
}

// EnsureSchema creates the event table and its supporting indexes if they
// do not already exist.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1,
			occurred_at TIMESTAMPTZ NOT NULL,
			workspace_id TEXT NOT NULL,
			room_id TEXT,
			thread_id TEXT,
			run_id TEXT,
			step_id TEXT,
			experiment_id TEXT,
			actor_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_principal_id TEXT,
			stream_type TEXT NOT NULL,
			stream_id TEXT NOT NULL,
			stream_position BIGINT NOT NULL,
			correlation_id TEXT NOT NULL,
			causation_id TEXT,
			data JSONB,
			idempotency_key TEXT,
			policy_context JSONB,
			model_context JSONB,
			display_context JSONB,
			UNIQUE (workspace_id, idempotency_key),
			UNIQUE (stream_type, stream_id, stream_position)
		);
		CREATE INDEX IF NOT EXISTS idx_events_workspace_occurred ON events(workspace_id, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_type, stream_id, stream_position);
	`)
	return err
}

// AppendToStream implements eventstore.Store, appending input inside a
// transaction this call opens and owns.
func (s *EventStore) AppendToStream(ctx context.Context, input domain.NewEventInput) (domain.Envelope, error) {
	var env domain.Envelope
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		e, err := s.appendInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}

// AppendToStreamTx implements eventstore.Store, appending input inside the
// caller's own transaction so the insert, its projectors, and the caller's
// own row mutations commit or roll back together. The caller owns tx's
// lifecycle; this method neither commits nor rolls back.
func (s *EventStore) AppendToStreamTx(ctx context.Context, tx *sql.Tx, input domain.NewEventInput) (domain.Envelope, error) {
	return s.appendInTx(ctx, tx, input)
}

// appendInTx is the shared append body behind AppendToStream and
// AppendToStreamTx: insert-or-return-existing, then apply registered
// projectors against the same tx.
func (s *EventStore) appendInTx(ctx context.Context, tx *sql.Tx, input domain.NewEventInput) (domain.Envelope, error) {
	if err := eventstore.Validate(input); err != nil {
		return domain.Envelope{}, err
	}

	data, err := json.Marshal(input.Data)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("marshal data: %w", err)
	}
	policyCtx, _ := json.Marshal(input.PolicyContext)
	modelCtx, _ := json.Marshal(input.ModelContext)
	displayCtx, _ := json.Marshal(input.DisplayContext)

	var nextPos int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(stream_position), 0) + 1
		FROM events
		WHERE stream_type = $1 AND stream_id = $2
	`, input.Stream.Type, input.Stream.ID).Scan(&nextPos)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("event_store.append_failed: %w", err)
	}

	eventID := uuid.NewString()

	var idempotency sql.NullString
	if input.IdempotencyKey != "" {
		idempotency = sql.NullString{String: input.IdempotencyKey, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, event_type, schema_version, occurred_at, workspace_id,
			room_id, thread_id, run_id, step_id, experiment_id,
			actor_type, actor_id, actor_principal_id,
			stream_type, stream_id, stream_position,
			correlation_id, causation_id, data, idempotency_key,
			policy_context, model_context, display_context
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23
		)
		ON CONFLICT (workspace_id, idempotency_key) DO NOTHING
	`,
		eventID, input.EventType, input.SchemaVersion, input.OccurredAt, input.WorkspaceID,
		toNullString(input.Scope.RoomID), toNullString(input.Scope.ThreadID), toNullString(input.Scope.RunID), toNullString(input.Scope.StepID), toNullString(input.Scope.ExperimentID),
		input.Actor.Type, input.Actor.ID, toNullString(input.Actor.PrincipalID),
		input.Stream.Type, input.Stream.ID, nextPos,
		input.CorrelationID, toNullString(input.CausationID), data, idempotency,
		policyCtx, modelCtx, displayCtx,
	)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("event_store.append_failed: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("event_store.append_failed: %w", err)
	}

	// Re-read by event_id (winner) or by idempotency key (prior writer).
	if input.IdempotencyKey != "" && inserted == 0 {
		return s.scanByIdempotency(ctx, tx, input.WorkspaceID, input.IdempotencyKey)
	}

	env, err := s.scanByID(ctx, tx, eventID)
	if err != nil {
		return domain.Envelope{}, err
	}

	if s.projectors != nil && inserted > 0 {
		if err := s.projectors.ApplyInTx(ctx, tx, env); err != nil {
			return domain.Envelope{}, err
		}
	}
	return env, nil
}

// Get implements eventstore.Store.
func (s *EventStore) Get(ctx context.Context, eventID string) (domain.Envelope, error) {
	row := s.db.QueryRowContext(ctx, selectEventColumns+` WHERE event_id = $1`, eventID)
	return scanEnvelope(row)
}

// ListByStream implements eventstore.Store.
func (s *EventStore) ListByStream(ctx context.Context, stream domain.Stream, afterPosition int64, limit int) ([]domain.Envelope, error) {
	query := selectEventColumns + ` WHERE stream_type = $1 AND stream_id = $2 AND stream_position > $3 ORDER BY stream_position`
	args := []any{stream.Type, stream.ID, afterPosition}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// ListSince implements eventstore.Store.
func (s *EventStore) ListSince(ctx context.Context, workspaceID string, since time.Time, eventTypes []string, limit int) ([]domain.Envelope, error) {
	query := selectEventColumns + ` WHERE workspace_id = $1 AND occurred_at > $2`
	args := []any{workspaceID, since}
	if len(eventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(eventTypes))
	}
	query += " ORDER BY occurred_at, stream_position"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

const selectEventColumns = `
	SELECT event_id, event_type, schema_version, occurred_at, workspace_id,
		room_id, thread_id, run_id, step_id, experiment_id,
		actor_type, actor_id, actor_principal_id,
		stream_type, stream_id, stream_position,
		correlation_id, causation_id, data, idempotency_key,
		policy_context, model_context, display_context
	FROM events`

func (s *EventStore) scanByID(ctx context.Context, tx *sql.Tx, eventID string) (domain.Envelope, error) {
	row := tx.QueryRowContext(ctx, selectEventColumns+` WHERE event_id = $1`, eventID)
	return scanEnvelope(row)
}

func (s *EventStore) scanByIdempotency(ctx context.Context, tx *sql.Tx, workspaceID, key string) (domain.Envelope, error) {
	row := tx.QueryRowContext(ctx, selectEventColumns+` WHERE workspace_id = $1 AND idempotency_key = $2`, workspaceID, key)
	return scanEnvelope(row)
}

func scanEnvelope(scanner rowScanner) (domain.Envelope, error) {
	var (
		env                                                        domain.Envelope
		roomID, threadID, runID, stepID, experimentID               sql.NullString
		actorPrincipalID, causationID, idempotencyKey               sql.NullString
		data, policyCtx, modelCtx, displayCtx                       []byte
	)

	err := scanner.Scan(
		&env.EventID, &env.EventType, &env.SchemaVersion, &env.OccurredAt, &env.WorkspaceID,
		&roomID, &threadID, &runID, &stepID, &experimentID,
		&env.Actor.Type, &env.Actor.ID, &actorPrincipalID,
		&env.Stream.Type, &env.Stream.ID, &env.StreamPosition,
		&env.CorrelationID, &causationID, &data, &idempotencyKey,
		&policyCtx, &modelCtx, &displayCtx,
	)
	if err != nil {
		return domain.Envelope{}, err
	}

	env.Scope = domain.Scope{
		RoomID:       roomID.String,
		ThreadID:     threadID.String,
		RunID:        runID.String,
		StepID:       stepID.String,
		ExperimentID: experimentID.String,
	}
	env.Actor.PrincipalID = actorPrincipalID.String
	env.CausationID = causationID.String
	env.IdempotencyKey = idempotencyKey.String

	if len(data) > 0 {
		_ = json.Unmarshal(data, &env.Data)
	}
	if len(policyCtx) > 0 {
		_ = json.Unmarshal(policyCtx, &env.PolicyContext)
	}
	if len(modelCtx) > 0 {
		_ = json.Unmarshal(modelCtx, &env.ModelContext)
	}
	if len(displayCtx) > 0 {
		_ = json.Unmarshal(displayCtx, &env.DisplayContext)
	}

	return env, nil
}

func scanEnvelopes(rows *sql.Rows) ([]domain.Envelope, error) {
	var result []domain.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, env)
	}
	return result, rows.Err()
}
