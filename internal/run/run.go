// Package run implements the run command surface (C2/C9 boundary):
// creation, step recording, and the completed/failed terminal
// transitions. Claim/heartbeat/release of the execution lease live in
// internal/lease, which owns the run_attempts history; this package only
// emits the events the run projector and pipeline projector consume.
package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
)

// Store reads the runs projection.
type Store interface {
	Get(ctx context.Context, runID string) (domain.Run, error)
}

// Engine implements the run command surface.
type Engine struct {
	store  Store
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs a run engine.
func NewEngine(store Store, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, events: events, now: now}
}

// CreateInput is the caller-supplied shape for Create.
type CreateInput struct {
	WorkspaceID   string
	RoomID        string
	ThreadID      string
	ExperimentID  string
	Title         string
	Goal          string
	Input         map[string]any
	Tags          []string
	ActorID       string
	CorrelationID string
}

// Create opens a new run in the queued state. Room, title, and goal are
// all required; a run with no room has nowhere to surface in
// conversation. Without a caller-supplied correlation id, the new run's id
// is used.
func (e *Engine) Create(ctx context.Context, in CreateInput) (domain.Run, error) {
	if in.RoomID == "" || in.Title == "" || in.Goal == "" {
		return domain.Run{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "room_id, title, and goal are required")
	}

	id := uuid.NewString()
	now := e.now()
	if in.CorrelationID == "" {
		in.CorrelationID = id
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "run.created",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: in.RoomID, ThreadID: in.ThreadID, RunID: id, ExperimentID: in.ExperimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"run_id": id, "title": in.Title, "goal": in.Goal, "input": in.Input, "tags": in.Tags,
		},
	}); err != nil {
		return domain.Run{}, err
	}

	return domain.Run{
		ID: id, WorkspaceID: in.WorkspaceID, RoomID: in.RoomID, ThreadID: in.ThreadID,
		ExperimentID: in.ExperimentID, Title: in.Title, Goal: in.Goal, Input: in.Input,
		Tags: in.Tags, CorrelationID: in.CorrelationID, Status: domain.RunStatusQueued,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// CompleteInput is the caller-supplied shape for Complete.
type CompleteInput struct {
	WorkspaceID   string
	RunID         string
	Output        map[string]any
	ActorID       string
	CorrelationID string
}

// Complete transitions a running (or queued, for engines that skip an
// explicit start) run to succeeded. Already-terminal runs are a no-op:
// the event log, not this call, is authoritative on which attempt won.
func (e *Engine) Complete(ctx context.Context, in CompleteInput) (domain.Run, error) {
	r, err := e.store.Get(ctx, in.RunID)
	if err != nil {
		return domain.Run{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	if in.CorrelationID == "" {
		in.CorrelationID = r.CorrelationID
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "run.completed",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: r.RoomID, ThreadID: r.ThreadID, RunID: in.RunID, ExperimentID: r.ExperimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"run_id": in.RunID, "output": in.Output,
		},
	}); err != nil {
		return domain.Run{}, err
	}

	r.Status = domain.RunStatusSucceeded
	r.Output = in.Output
	r.UpdatedAt = now
	return r, nil
}

// FailInput is the caller-supplied shape for Fail.
type FailInput struct {
	WorkspaceID   string
	RunID         string
	Error         string
	ActorID       string
	CorrelationID string
}

// Fail transitions a run to failed. Already-terminal runs are a no-op.
func (e *Engine) Fail(ctx context.Context, in FailInput) (domain.Run, error) {
	r, err := e.store.Get(ctx, in.RunID)
	if err != nil {
		return domain.Run{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	if in.Error == "" {
		return domain.Run{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "error is required")
	}
	if in.CorrelationID == "" {
		in.CorrelationID = r.CorrelationID
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "run.failed",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: r.RoomID, ThreadID: r.ThreadID, RunID: in.RunID, ExperimentID: r.ExperimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"run_id": in.RunID, "error": in.Error,
		},
	}); err != nil {
		return domain.Run{}, err
	}

	r.Status = domain.RunStatusFailed
	r.Error = in.Error
	r.UpdatedAt = now
	return r, nil
}

// StepInput is the caller-supplied shape for AddStep.
type StepInput struct {
	WorkspaceID   string
	RunID         string
	Name          string
	Status        string
	Data          map[string]any
	ActorID       string
	CorrelationID string
}

// AddStep records a step against a run. The run need not be running yet:
// engines sometimes record planning steps before claiming the lease.
func (e *Engine) AddStep(ctx context.Context, in StepInput) (domain.Step, error) {
	r, err := e.store.Get(ctx, in.RunID)
	if err != nil {
		return domain.Step{}, err
	}
	if in.Name == "" {
		return domain.Step{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "name is required")
	}
	status := in.Status
	if status == "" {
		status = "pending"
	}
	if in.CorrelationID == "" {
		in.CorrelationID = r.CorrelationID
	}

	id := uuid.NewString()
	now := e.now()

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "step.created",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Scope:       domain.Scope{RoomID: r.RoomID, ThreadID: r.ThreadID, RunID: in.RunID, ExperimentID: r.ExperimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"step_id": id, "name": in.Name, "status": status, "data": in.Data,
		},
	}); err != nil {
		return domain.Step{}, err
	}

	return domain.Step{ID: id, RunID: in.RunID, Name: in.Name, Status: status, Data: in.Data, CreatedAt: now}, nil
}
