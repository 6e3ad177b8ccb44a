package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// EventStore is an in-memory implementation of eventstore.Store, the
// default backing for tests and for running the control plane without a
// configured Postgres DSN.
type EventStore struct {
	mu            sync.Mutex
	byID          map[string]domain.Envelope
	byIdempotency map[string]string // (workspace_id, idempotency_key) -> event_id
	streamSeq     map[string]int64  // (stream_type, stream_id) -> last position
	order         []string          // event ids in append order
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore constructs an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byID:          make(map[string]domain.Envelope),
		byIdempotency: make(map[string]string),
		streamSeq:     make(map[string]int64),
	}
}

func idempotencyKey(workspaceID, key string) string {
	return workspaceID + "\x00" + key
}

func streamKey(s domain.Stream) string {
	return string(s.Type) + "\x00" + s.ID
}

// AppendToStream implements eventstore.Store.
func (s *EventStore) AppendToStream(ctx context.Context, input domain.NewEventInput) (domain.Envelope, error) {
	if err := eventstore.Validate(input); err != nil {
		return domain.Envelope{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if input.IdempotencyKey != "" {
		ik := idempotencyKey(input.WorkspaceID, input.IdempotencyKey)
		if existingID, ok := s.byIdempotency[ik]; ok {
			return s.byID[existingID], nil
		}
	}

	sk := streamKey(input.Stream)
	s.streamSeq[sk]++
	pos := s.streamSeq[sk]

	env := domain.Envelope{
		EventID:        uuid.NewString(),
		EventType:      input.EventType,
		SchemaVersion:  input.SchemaVersion,
		OccurredAt:     input.OccurredAt,
		WorkspaceID:    input.WorkspaceID,
		Scope:          input.Scope,
		Actor:          input.Actor,
		Stream:         input.Stream,
		StreamPosition: pos,
		CorrelationID:  input.CorrelationID,
		CausationID:    input.CausationID,
		Data:           input.Data,
		IdempotencyKey: input.IdempotencyKey,
		PolicyContext:  input.PolicyContext,
		ModelContext:   input.ModelContext,
		DisplayContext: input.DisplayContext,
	}

	s.byID[env.EventID] = env
	s.order = append(s.order, env.EventID)
	if input.IdempotencyKey != "" {
		s.byIdempotency[idempotencyKey(input.WorkspaceID, input.IdempotencyKey)] = env.EventID
	}

	return env, nil
}

// AppendToStreamTx implements eventstore.Store. The in-memory store has no
// real transaction boundary of its own — its mutex already makes each
// append atomic — so it ignores tx and behaves exactly like
// AppendToStream; callers that hold a *sql.Tx from a sqlmock-backed *sql.DB
// in tests can pass it through unchanged.
func (s *EventStore) AppendToStreamTx(ctx context.Context, tx *sql.Tx, input domain.NewEventInput) (domain.Envelope, error) {
	return s.AppendToStream(ctx, input)
}

// Get implements eventstore.Store.
func (s *EventStore) Get(ctx context.Context, eventID string) (domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[eventID]
	if !ok {
		return domain.Envelope{}, sql.ErrNoRows
	}
	return env, nil
}

// ListByStream implements eventstore.Store.
func (s *EventStore) ListByStream(ctx context.Context, stream domain.Stream, afterPosition int64, limit int) ([]domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Envelope
	for _, id := range s.order {
		env := s.byID[id]
		if env.Stream != stream {
			continue
		}
		if env.StreamPosition <= afterPosition {
			continue
		}
		result = append(result, env)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StreamPosition < result[j].StreamPosition })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListSince implements eventstore.Store.
func (s *EventStore) ListSince(ctx context.Context, workspaceID string, since time.Time, eventTypes []string, limit int) ([]domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[t] = true
	}

	var result []domain.Envelope
	for _, id := range s.order {
		env := s.byID[id]
		if env.WorkspaceID != workspaceID {
			continue
		}
		if !env.OccurredAt.After(since) {
			continue
		}
		if len(typeSet) > 0 && !typeSet[env.EventType] {
			continue
		}
		result = append(result, env)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].StreamPosition < result[j].StreamPosition
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
