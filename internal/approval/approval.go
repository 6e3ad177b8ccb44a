// Package approval implements the approval request/decide state machine
// and the distinct autonomy-recommendation approval path.
package approval

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/platform/database"
)

// Engine implements the approval request/decide lifecycle.
type Engine struct {
	db     *sql.DB
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs an approval engine.
func NewEngine(db *sql.DB, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{db: db, events: events, now: now}
}

// RequestInput is the caller-supplied shape for Request. RunID, RoomID,
// and ExperimentID are optional entity bindings: set whichever the
// gated action targets so the pipeline projector can resolve
// has_pending_approval for that entity.
type RequestInput struct {
	WorkspaceID    string
	ActionCode     string
	Scope          domain.ApprovalScope
	RequestedByID  string
	CorrelationID  string
	RunID          string
	RoomID         string
	ExperimentID   string
	ScopeSnapshot  map[string]any
}

// Request creates a pending approval, emitting approval.requested.
func (e *Engine) Request(ctx context.Context, in RequestInput) (domain.Approval, error) {
	id := uuid.NewString()
	now := e.now()

	env, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "approval.requested",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: in.RoomID, RunID: in.RunID, ExperimentID: in.ExperimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: in.RequestedByID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"approval_id": id, "action_code": in.ActionCode, "scope": in.Scope,
			"requested_by_id": in.RequestedByID, "scope_snapshot": in.ScopeSnapshot,
			"run_id": in.RunID, "room_id": in.RoomID, "experiment_id": in.ExperimentID,
		},
	})
	if err != nil {
		return domain.Approval{}, err
	}

	return domain.Approval{
		ID: id, WorkspaceID: in.WorkspaceID, ActionCode: in.ActionCode, Scope: in.Scope,
		RequestedByID: in.RequestedByID, Status: domain.ApprovalStatusPending,
		RunID: in.RunID, RoomID: in.RoomID, ExperimentID: in.ExperimentID,
		ScopeSnapshot: in.ScopeSnapshot, LastEventID: env.EventID, CreatedAt: now,
	}, nil
}

// Decide transitions an approval to approved/denied/held. Re-deciding a
// terminal approval still appends approval.decided, but returns the
// existing terminal state unchanged rather than erroring.
func (e *Engine) Decide(ctx context.Context, approvalID, decidedByID string, newStatus domain.ApprovalStatus, correlationID string, sourceMetadata map[string]any) (domain.Approval, error) {
	var result domain.Approval
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var current domain.Approval
		row := tx.QueryRowContext(ctx, `
			SELECT id, workspace_id, action_code, scope, requested_by_id, status,
			       decided_by_id, decided_at, last_event_id, created_at
			FROM approvals WHERE id = $1
		`, approvalID)
		var decidedByDB sql.NullString
		var decidedAt sql.NullTime
		if err := row.Scan(&current.ID, &current.WorkspaceID, &current.ActionCode, &current.Scope,
			&current.RequestedByID, &current.Status, &decidedByDB, &decidedAt, &current.LastEventID, &current.CreatedAt); err != nil {
			return err
		}
		if decidedByDB.Valid {
			current.DecidedByID = decidedByDB.String
		}
		if decidedAt.Valid {
			current.DecidedAt = &decidedAt.Time
		}

		now := e.now()
		data := map[string]any{
			"approval_id": approvalID, "status": newStatus, "decided_by_id": decidedByID,
		}
		for k, v := range sourceMetadata {
			data[k] = v
		}

		// approval.decided is appended unconditionally, even against a
		// terminal approval: S3/§8 require the event log to carry every
		// decide call (count = 2 for request-approve-then-deny-again), with
		// only the projection staying on the first decision. The projector
		// already enforces that (its UPDATE is guarded by
		// `WHERE status IN (pending, held)`, projector/approval.go) — it is
		// the no-op, not this command.
		env, err := e.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
			EventType:   "approval.decided",
			OccurredAt:  now,
			WorkspaceID: current.WorkspaceID,
			Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: current.WorkspaceID},
			Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: decidedByID},
			CorrelationID: correlationID,
			Data:        data,
		})
		if err != nil {
			return err
		}

		if current.Status.Terminal() {
			result = current
			return nil
		}

		current.Status = newStatus
		current.DecidedByID = decidedByID
		current.DecidedAt = &now
		current.LastEventID = env.EventID
		result = current
		return nil
	})
	if err != nil {
		return domain.Approval{}, err
	}
	return result, nil
}
