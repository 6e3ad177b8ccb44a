// Package agent implements registration and quarantine of agent
// principals (C1/C7 boundary): the commands behind POST /v1/agents and
// POST /v1/agents/:id/quarantine.
package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// Store reads the agents projection.
type Store interface {
	Get(ctx context.Context, workspaceID, agentID string) (domain.Agent, error)
}

// Engine implements agent registration and quarantine.
type Engine struct {
	store  Store
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs an agent engine.
func NewEngine(store Store, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, events: events, now: now}
}

// RegisterInput is the caller-supplied shape for Register.
type RegisterInput struct {
	WorkspaceID   string
	DisplayName   string
	RegisteredByID string
	CorrelationID string
}

// Register creates a new agent principal and emits agent.registered.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (domain.Agent, error) {
	agentID := uuid.NewString()
	principalID := uuid.NewString()
	now := e.now()

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "agent.registered",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.RegisteredByID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"agent_id": agentID, "principal_id": principalID, "display_name": in.DisplayName,
		},
	}); err != nil {
		return domain.Agent{}, err
	}

	return domain.Agent{
		ID: agentID, WorkspaceID: in.WorkspaceID, PrincipalID: principalID,
		DisplayName: in.DisplayName, CreatedAt: now,
	}, nil
}

// QuarantineInput is the caller-supplied shape for Quarantine.
type QuarantineInput struct {
	WorkspaceID     string
	AgentID         string
	Reason          string
	QuarantinedByID string
	CorrelationID   string
}

// QuarantineResult reports whether this call changed state or replayed an
// existing quarantine.
type QuarantineResult struct {
	Agent     domain.Agent
	Quarantined bool // true only when this call caused the transition
}

// Quarantine is idempotent: calling it against an already-quarantined
// agent is a no-op that returns the agent's existing quarantine reason,
// not the new request's reason, and emits nothing.
func (e *Engine) Quarantine(ctx context.Context, in QuarantineInput) (QuarantineResult, error) {
	ag, err := e.store.Get(ctx, in.WorkspaceID, in.AgentID)
	if err != nil {
		return QuarantineResult{}, err
	}
	if ag.Quarantined() {
		return QuarantineResult{Agent: ag, Quarantined: false}, nil
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "agent.quarantined",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.QuarantinedByID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"agent_id": in.AgentID, "reason": in.Reason,
		},
	}); err != nil {
		return QuarantineResult{}, err
	}

	ag.QuarantinedAt = &now
	ag.QuarantineReason = in.Reason
	return QuarantineResult{Agent: ag, Quarantined: true}, nil
}
