// Package engine implements registration and deactivation of the
// external services (C9 boundary extension) that claim and execute
// runs: POST /v1/engines and POST /v1/engines/:id/deactivate.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// Store reads the engines projection.
type Store interface {
	Get(ctx context.Context, workspaceID, engineID string) (domain.Engine, error)
}

// Engine implements engine registration and deactivation. Named Manager
// to avoid colliding with domain.Engine, the entity it manages.
type Manager struct {
	store  Store
	events eventstore.Store
	now    func() time.Time
}

// NewManager constructs an engine manager.
func NewManager(store Store, events eventstore.Store, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, events: events, now: now}
}

// RegisterInput is the caller-supplied shape for Register.
type RegisterInput struct {
	WorkspaceID    string
	Name           string
	RegisteredByID string
	CorrelationID  string
}

// Register creates a new engine principal and emits engine.registered.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (domain.Engine, error) {
	engineID := uuid.NewString()
	principalID := uuid.NewString()
	now := m.now()

	if _, err := m.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "engine.registered",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.RegisteredByID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"engine_id": engineID, "principal_id": principalID, "name": in.Name,
		},
	}); err != nil {
		return domain.Engine{}, err
	}

	return domain.Engine{
		ID: engineID, WorkspaceID: in.WorkspaceID, PrincipalID: principalID,
		Name: in.Name, CreatedAt: now,
	}, nil
}

// DeactivateInput is the caller-supplied shape for Deactivate.
type DeactivateInput struct {
	WorkspaceID      string
	EngineID         string
	DeactivatedByID  string
	CorrelationID    string
}

// DeactivateResult reports whether this call changed state.
type DeactivateResult struct {
	Engine       domain.Engine
	Deactivated  bool // true only when this call caused the transition
}

// Deactivate is idempotent: calling it against an already-deactivated
// engine is a no-op. On the transition it emits engine.deactivated,
// which the engine projector applies by revoking every active token
// issued to the engine's principal in the same transaction.
func (m *Manager) Deactivate(ctx context.Context, in DeactivateInput) (DeactivateResult, error) {
	eng, err := m.store.Get(ctx, in.WorkspaceID, in.EngineID)
	if err != nil {
		return DeactivateResult{}, err
	}
	if !eng.Active() {
		return DeactivateResult{Engine: eng, Deactivated: false}, nil
	}

	now := m.now()
	if _, err := m.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "engine.deactivated",
		OccurredAt:  now,
		WorkspaceID: in.WorkspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: in.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: in.DeactivatedByID},
		CorrelationID: in.CorrelationID,
		Data: map[string]any{
			"engine_id": in.EngineID, "principal_id": eng.PrincipalID,
		},
	}); err != nil {
		return DeactivateResult{}, err
	}

	eng.DeactivatedAt = &now
	return DeactivateResult{Engine: eng, Deactivated: true}, nil
}
