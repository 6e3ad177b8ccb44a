// Package experiment implements the experiment lifecycle (C9): creation,
// in-place updates while open, and a close operation that refuses to
// finalize while runs are still active unless the caller forces a stop.
package experiment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
)

// Store reads and writes experiment projection rows.
type Store interface {
	Get(ctx context.Context, workspaceID, experimentID string) (domain.Experiment, error)
}

// ActiveRunCounter counts runs bound to an experiment that are not yet in
// a terminal state.
type ActiveRunCounter interface {
	CountActive(ctx context.Context, workspaceID, experimentID string) (int, error)
}

// Engine implements the experiment state machine.
type Engine struct {
	store  Store
	runs   ActiveRunCounter
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs an experiment engine.
func NewEngine(store Store, runs ActiveRunCounter, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, runs: runs, events: events, now: now}
}

// CreateInput is the caller-supplied shape for Create.
type CreateInput struct {
	WorkspaceID     string
	RoomID          string
	Title           string
	Hypothesis      string
	SuccessCriteria string
	StopConditions  string
	BudgetCapUnits  float64
	RiskTier        domain.RiskTier
	ActorID         string
	CorrelationID   string
}

// Create opens a new experiment. Title, hypothesis, a non-negative budget
// cap, and a risk tier are all required. Without a caller-supplied
// correlation id, the new experiment's id is used.
func (e *Engine) Create(ctx context.Context, in CreateInput) (domain.Experiment, error) {
	if in.Title == "" || in.Hypothesis == "" {
		return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "title and hypothesis are required")
	}
	if in.BudgetCapUnits < 0 {
		return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "budget_cap_units must be non-negative")
	}
	if in.RiskTier == "" {
		return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "risk_tier is required")
	}

	id := uuid.NewString()
	now := e.now()
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = id
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:     "experiment.created",
		OccurredAt:    now,
		WorkspaceID:   in.WorkspaceID,
		Scope:         domain.Scope{RoomID: in.RoomID, ExperimentID: id},
		Stream:        domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:         domain.Actor{Type: domain.ActorTypeUser, ID: in.ActorID},
		CorrelationID: correlationID,
		Data: map[string]any{
			"experiment_id":     id,
			"title":             in.Title,
			"hypothesis":        in.Hypothesis,
			"success_criteria":  in.SuccessCriteria,
			"stop_conditions":   in.StopConditions,
			"budget_cap_units":  in.BudgetCapUnits,
			"risk_tier":         in.RiskTier,
		},
	}); err != nil {
		return domain.Experiment{}, err
	}

	return domain.Experiment{
		ID: id, WorkspaceID: in.WorkspaceID, RoomID: in.RoomID, Title: in.Title,
		Hypothesis: in.Hypothesis, SuccessCriteria: in.SuccessCriteria, StopConditions: in.StopConditions,
		BudgetCapUnits: in.BudgetCapUnits, RiskTier: in.RiskTier, Status: domain.ExperimentStatusOpen,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// UpdateInput carries the fields an open experiment may be updated with.
type UpdateInput struct {
	Title           *string
	Hypothesis      *string
	SuccessCriteria *string
	StopConditions  *string
	BudgetCapUnits  *float64
	RiskTier        *domain.RiskTier
}

// Update mutates an open experiment's fields; experiments that are closed
// or stopped reject further updates.
func (e *Engine) Update(ctx context.Context, workspaceID, experimentID, actorID string, in UpdateInput) (domain.Experiment, error) {
	exp, err := e.store.Get(ctx, workspaceID, experimentID)
	if err != nil {
		return domain.Experiment{}, err
	}
	if exp.Status != domain.ExperimentStatusOpen {
		return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonExperimentNotOpen, "experiment is not open")
	}

	changes := map[string]any{}
	if in.Title != nil {
		exp.Title = *in.Title
		changes["title"] = *in.Title
	}
	if in.Hypothesis != nil {
		exp.Hypothesis = *in.Hypothesis
		changes["hypothesis"] = *in.Hypothesis
	}
	if in.SuccessCriteria != nil {
		exp.SuccessCriteria = *in.SuccessCriteria
		changes["success_criteria"] = *in.SuccessCriteria
	}
	if in.StopConditions != nil {
		exp.StopConditions = *in.StopConditions
		changes["stop_conditions"] = *in.StopConditions
	}
	if in.BudgetCapUnits != nil {
		if *in.BudgetCapUnits < 0 {
			return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "budget_cap_units must be non-negative")
		}
		exp.BudgetCapUnits = *in.BudgetCapUnits
		changes["budget_cap_units"] = *in.BudgetCapUnits
	}
	if in.RiskTier != nil {
		exp.RiskTier = *in.RiskTier
		changes["risk_tier"] = *in.RiskTier
	}

	now := e.now()
	changes["experiment_id"] = experimentID
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "experiment.updated",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RoomID: exp.RoomID, ExperimentID: experimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: experimentID,
		Data:        changes,
	}); err != nil {
		return domain.Experiment{}, err
	}

	exp.UpdatedAt = now
	return exp, nil
}

// Close finalizes an experiment. Without force, it refuses to close while
// active (queued or running) runs remain bound to the experiment. With
// force, active runs are tolerated and the experiment is marked stopped
// instead of closed.
func (e *Engine) Close(ctx context.Context, workspaceID, experimentID, actorID string, force bool, reason string) (domain.Experiment, error) {
	exp, err := e.store.Get(ctx, workspaceID, experimentID)
	if err != nil {
		return domain.Experiment{}, err
	}
	if exp.Status != domain.ExperimentStatusOpen {
		return exp, nil
	}

	active := 0
	if e.runs != nil {
		active, err = e.runs.CountActive(ctx, workspaceID, experimentID)
		if err != nil {
			return domain.Experiment{}, err
		}
	}

	if active > 0 && !force {
		return domain.Experiment{}, serviceerrors.New(serviceerrors.ReasonExperimentHasActiveRuns, "experiment has active runs").
			WithDetails("active_run_count", active)
	}

	now := e.now()
	status := domain.ExperimentStatusClosed
	if active > 0 && force {
		status = domain.ExperimentStatusStopped
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "experiment.closed",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RoomID: exp.RoomID, ExperimentID: experimentID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: experimentID,
		Data: map[string]any{
			"experiment_id":    experimentID,
			"status":           string(status),
			"close_reason":     reason,
			"active_run_count": active,
			"forced":           force,
		},
	}); err != nil {
		return domain.Experiment{}, err
	}

	exp.Status = status
	exp.ActiveRunCount = active
	exp.CloseReason = reason
	exp.UpdatedAt = now
	return exp, nil
}
