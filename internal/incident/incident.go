// Package incident implements the incident RCA/learning/close state
// machine (C9): opening (optionally bound to a run), recording RCA and
// learnings while open, and gating close on both being present.
package incident

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
)

// RunLookup resolves a run's room/thread/correlation for inheritance when
// an incident binds to a run without overriding those fields.
type RunLookup interface {
	Get(ctx context.Context, runID string) (domain.Run, error)
}

// Store reads and writes incident projection rows.
type Store interface {
	Get(ctx context.Context, workspaceID, incidentID string) (domain.Incident, error)
}

// Engine implements the incident state machine.
type Engine struct {
	store  Store
	runs   RunLookup
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs an incident engine.
func NewEngine(store Store, runs RunLookup, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, runs: runs, events: events, now: now}
}

// OpenInput is the caller-supplied shape for Open.
type OpenInput struct {
	WorkspaceID   string
	RunID         string
	RoomID        string
	ThreadID      string
	CorrelationID string
	Severity      string
	ActorID       string
}

// Open creates a new incident, inheriting room/thread/correlation from the
// bound run when the caller did not override them. With no correlation id
// from either, the new incident's id is used.
func (e *Engine) Open(ctx context.Context, in OpenInput) (domain.Incident, error) {
	if in.RunID != "" && e.runs != nil && (in.RoomID == "" || in.ThreadID == "" || in.CorrelationID == "") {
		run, err := e.runs.Get(ctx, in.RunID)
		if err == nil {
			if in.RoomID == "" {
				in.RoomID = run.RoomID
			}
			if in.ThreadID == "" {
				in.ThreadID = run.ThreadID
			}
			if in.CorrelationID == "" {
				in.CorrelationID = run.CorrelationID
			}
		}
	}

	id := uuid.NewString()
	now := e.now()
	if in.CorrelationID == "" {
		in.CorrelationID = id
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "incident.opened",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: in.RoomID, ThreadID: in.ThreadID, RunID: in.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"incident_id": id, "severity": in.Severity, "run_id": in.RunID,
		},
	}); err != nil {
		return domain.Incident{}, err
	}

	return domain.Incident{
		ID: id, WorkspaceID: in.WorkspaceID, RunID: in.RunID, RoomID: in.RoomID,
		ThreadID: in.ThreadID, CorrelationID: in.CorrelationID, Severity: in.Severity,
		Status: domain.IncidentStatusOpen, CreatedAt: now,
	}, nil
}

// RecordRCA sets the RCA payload; requires the incident to be open and the
// payload non-empty.
func (e *Engine) RecordRCA(ctx context.Context, workspaceID, incidentID, actorID string, payload map[string]any) (domain.Incident, error) {
	inc, err := e.store.Get(ctx, workspaceID, incidentID)
	if err != nil {
		return domain.Incident{}, err
	}
	if inc.Status != domain.IncidentStatusOpen {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonIncidentClosed, "incident is closed")
	}
	if len(payload) == 0 {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "rca payload must be non-empty")
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "incident.rca.updated",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RoomID: inc.RoomID, ThreadID: inc.ThreadID, RunID: inc.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: inc.CorrelationID,
		Data: map[string]any{
			"incident_id": incidentID, "rca": payload,
		},
	}); err != nil {
		return domain.Incident{}, err
	}

	inc.RCA = payload
	inc.RCAUpdatedAt = &now
	return inc, nil
}

// LogLearning appends a learning entry; requires the incident to be open
// and the note non-empty.
func (e *Engine) LogLearning(ctx context.Context, workspaceID, incidentID, actorID, note string) (domain.Incident, error) {
	inc, err := e.store.Get(ctx, workspaceID, incidentID)
	if err != nil {
		return domain.Incident{}, err
	}
	if inc.Status != domain.IncidentStatusOpen {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonIncidentClosed, "incident is closed")
	}
	if note == "" {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "learning note must be non-empty")
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "incident.learning.logged",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RoomID: inc.RoomID, ThreadID: inc.ThreadID, RunID: inc.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: inc.CorrelationID,
		Data: map[string]any{
			"incident_id": incidentID, "note": note,
		},
	}); err != nil {
		return domain.Incident{}, err
	}

	inc.Learnings = append(inc.Learnings, domain.LearningEntry{Note: note, LoggedAt: now, LoggedBy: actorID})
	inc.LearningCount++
	return inc, nil
}

// Close requires an RCA to have been recorded and at least one learning
// logged; otherwise it returns the specific missing-precondition reason
// code so the caller can tell which gate blocked it.
func (e *Engine) Close(ctx context.Context, workspaceID, incidentID, actorID string) (domain.Incident, error) {
	inc, err := e.store.Get(ctx, workspaceID, incidentID)
	if err != nil {
		return domain.Incident{}, err
	}
	if inc.Status != domain.IncidentStatusOpen {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonIncidentClosed, "incident is closed")
	}
	if inc.RCAUpdatedAt == nil {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonIncidentCloseBlockedMissingRCA, "incident close blocked: missing rca")
	}
	if inc.LearningCount < 1 {
		return domain.Incident{}, serviceerrors.New(serviceerrors.ReasonIncidentCloseBlockedMissingLearning, "incident close blocked: missing learning")
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "incident.closed",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RoomID: inc.RoomID, ThreadID: inc.ThreadID, RunID: inc.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: inc.CorrelationID,
		Data: map[string]any{
			"incident_id": incidentID,
		},
	}); err != nil {
		return domain.Incident{}, err
	}

	inc.Status = domain.IncidentStatusClosed
	inc.ClosedAt = &now
	return inc, nil
}
