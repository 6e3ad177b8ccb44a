// Package eventstore is the canonical append-only event log: per-stream
// monotonic ordering, at-most-once append via idempotency keys, and
// causation linkage.
package eventstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentctl/core/internal/domain"
)

// Store is the append/read contract every projector and command handler
// goes through. Implementations must guarantee that a duplicate
// idempotency_key insertion returns the original envelope rather than
// erroring or appending twice.
type Store interface {
	// AppendToStream persists input and returns the canonical, stored
	// envelope. If input.IdempotencyKey collides with an existing row for
	// the same workspace, the original envelope is returned (not an error).
	AppendToStream(ctx context.Context, input domain.NewEventInput) (domain.Envelope, error)

	// AppendToStreamTx is AppendToStream threaded through a caller-owned
	// transaction (spec §4.2's optional `tx?` parameter), for command
	// handlers that already hold a *sql.Tx for their own precondition
	// checks and row mutations — run claim, work-item claim, approval
	// decide, autonomy approval. Appending through AppendToStream instead
	// in that situation opens a second, independently-committing
	// transaction that can block on row locks the caller's own transaction
	// still holds, and breaks the "one command, one commit" guarantee: the
	// caller's row mutation and the appended event must commit or roll
	// back together. The caller owns tx's lifecycle; this method neither
	// commits nor rolls back.
	AppendToStreamTx(ctx context.Context, tx *sql.Tx, input domain.NewEventInput) (domain.Envelope, error)

	// Get looks up a single event by id.
	Get(ctx context.Context, eventID string) (domain.Envelope, error)

	// ListByStream returns events for one stream, ordered by stream
	// position, starting strictly after afterPosition.
	ListByStream(ctx context.Context, stream domain.Stream, afterPosition int64, limit int) ([]domain.Envelope, error)

	// ListSince returns events in a workspace with OccurredAt strictly
	// after `since`, ordered by (occurred_at, stream_position), used by
	// the async projector catch-up worker. eventTypes, when non-empty,
	// restricts the result to those types.
	ListSince(ctx context.Context, workspaceID string, since time.Time, eventTypes []string, limit int) ([]domain.Envelope, error)
}

// ErrValidationFailed wraps a missing-required-field append failure, per
// event_store.validation_failed.
type ErrValidationFailed struct {
	Field string
}

func (e *ErrValidationFailed) Error() string {
	return "event_store.validation_failed: missing " + e.Field
}

// Validate checks the minimum required fields on a new event input.
func Validate(input domain.NewEventInput) error {
	if input.EventType == "" {
		return &ErrValidationFailed{Field: "event_type"}
	}
	if input.WorkspaceID == "" {
		return &ErrValidationFailed{Field: "workspace_id"}
	}
	if input.Stream.Type == "" || input.Stream.ID == "" {
		return &ErrValidationFailed{Field: "stream"}
	}
	if input.OccurredAt.IsZero() {
		return &ErrValidationFailed{Field: "occurred_at"}
	}
	if input.CorrelationID == "" {
		return &ErrValidationFailed{Field: "correlation_id"}
	}
	if input.Actor.Type == "" || input.Actor.ID == "" {
		return &ErrValidationFailed{Field: "actor"}
	}
	return nil
}
