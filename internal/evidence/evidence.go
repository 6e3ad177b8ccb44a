// Package evidence records run evidence manifests and the scorecards
// reviewers attach to them (spec §4.10's inputs to the pipeline stage
// resolver). Evidence and scorecards arrive as opaque JSON payloads; this
// package only tracks their lifecycle status and bindings, mirroring the
// state-machine style of internal/incident.
package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
)

// Store reads the current state of one evidence manifest.
type Store interface {
	Get(ctx context.Context, workspaceID, evidenceID string) (domain.EvidenceManifest, error)
}

// Engine transitions evidence manifests and records scorecards, emitting
// the paired event for each.
type Engine struct {
	store  Store
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs an evidence engine.
func NewEngine(store Store, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, events: events, now: now}
}

// Create opens a new evidence manifest for a run in the "created" status.
func (e *Engine) Create(ctx context.Context, workspaceID, runID, actorID string, payload map[string]any) (domain.EvidenceManifest, error) {
	if runID == "" {
		return domain.EvidenceManifest{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "run_id is required")
	}

	now := e.now()
	id := uuid.NewString()
	m := domain.EvidenceManifest{
		ID: id, WorkspaceID: workspaceID, RunID: runID,
		Status: domain.EvidenceStatusCreated, Payload: payload,
		CreatedAt: now, UpdatedAt: now,
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "evidence.created",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RunID: runID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: id,
		Data: map[string]any{
			"evidence_id": id, "run_id": runID, "status": string(m.Status), "payload": payload,
		},
	}); err != nil {
		return domain.EvidenceManifest{}, err
	}
	return m, nil
}

// MarkUnderReview transitions a created manifest into review.
func (e *Engine) MarkUnderReview(ctx context.Context, workspaceID, evidenceID, actorID string) (domain.EvidenceManifest, error) {
	m, err := e.store.Get(ctx, workspaceID, evidenceID)
	if err != nil {
		return domain.EvidenceManifest{}, err
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "evidence.under_review",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RunID: m.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: evidenceID,
		Data: map[string]any{
			"evidence_id": evidenceID, "run_id": m.RunID, "status": string(domain.EvidenceStatusUnderReview),
		},
	}); err != nil {
		return domain.EvidenceManifest{}, err
	}
	m.Status = domain.EvidenceStatusUnderReview
	m.UpdatedAt = now
	return m, nil
}

// Reject marks a manifest rejected with a reviewer-supplied reason.
func (e *Engine) Reject(ctx context.Context, workspaceID, evidenceID, actorID, reason string) (domain.EvidenceManifest, error) {
	m, err := e.store.Get(ctx, workspaceID, evidenceID)
	if err != nil {
		return domain.EvidenceManifest{}, err
	}

	now := e.now()
	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "evidence.rejected",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RunID: m.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: evidenceID,
		Data: map[string]any{
			"evidence_id": evidenceID, "run_id": m.RunID, "status": string(domain.EvidenceStatusRejected), "reason": reason,
		},
	}); err != nil {
		return domain.EvidenceManifest{}, err
	}
	m.Status = domain.EvidenceStatusRejected
	m.UpdatedAt = now
	return m, nil
}

// RecordScorecard attaches a scorecard decision to a run/evidence pair.
// The "warn" decision is normalized to "pending" per spec before it is
// persisted, so downstream pipeline resolution never sees it.
func (e *Engine) RecordScorecard(ctx context.Context, workspaceID, runID, evidenceID, actorID string, decision domain.ScorecardDecision, payload map[string]any) (domain.Scorecard, error) {
	if runID == "" && evidenceID == "" {
		return domain.Scorecard{}, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "run_id or evidence_id is required")
	}
	decision = domain.NormalizeScorecardDecision(decision)

	now := e.now()
	id := uuid.NewString()
	sc := domain.Scorecard{
		ID: id, WorkspaceID: workspaceID, RunID: runID, EvidenceID: evidenceID,
		Decision: decision, Payload: payload, CreatedAt: now,
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "scorecard.recorded",
		OccurredAt:  now,
		WorkspaceID: workspaceID,
		Scope:       domain.Scope{RunID: runID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: actorID},
		CorrelationID: id,
		Data: map[string]any{
			"scorecard_id": id, "run_id": runID, "evidence_id": evidenceID,
			"decision": string(decision), "payload": payload,
		},
	}); err != nil {
		return domain.Scorecard{}, err
	}
	return sc, nil
}
