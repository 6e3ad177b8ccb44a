// Package trust computes the deterministic agent trust score (C7/C8) and
// derives approval-mode recommendations from it. Recomputation is a pure
// function of its five recorded components; the engine's job is sourcing
// those components from the event log (or accepting caller overrides) and
// emitting the paired increase/decrease event when the score moves.
package trust

import (
	"context"
	"math"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// epsilon is the minimum |delta| that triggers a trust-change event; equal
// scores (within this band) are silent per spec §4.8.
const epsilon = 1e-4

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

// Compute implements the fixed trust formula over five clamped components.
// It is deterministic: identical inputs yield a bit-identical score.
func Compute(c domain.TrustComponents) float64 {
	success := clamp01(c.SuccessRate7d)
	evalN := clamp01((clamp(c.EvalQualityTrend, -1, 1) + 1) / 2)
	feedback := clamp01(c.UserFeedbackScore)
	tenure := clamp01(float64(c.TimeInServiceDays) / 30)
	penalty := clamp01(float64(c.PolicyViolations7d) / 10)

	raw := 0.4*success + 0.2*evalN + 0.2*feedback + 0.2*tenure - 0.3*penalty
	return clamp01(raw)
}

// SignalSources looks up the default component values described in spec
// §4.8, derived from the event log over the trailing 7 days.
type SignalSources interface {
	SuccessRate7d(ctx context.Context, workspaceID, agentID string) (float64, error)
	PolicyViolations7d(ctx context.Context, workspaceID, agentID string) (int, error)
	UserFeedbackScore(ctx context.Context, workspaceID, agentID string) (float64, error)
	TimeInServiceDays(ctx context.Context, workspaceID, agentID string, now time.Time) (int, error)
}

// Overrides carries caller-supplied replacements for individual components;
// a nil pointer leaves the derived default in place.
type Overrides struct {
	SuccessRate7d      *float64
	EvalQualityTrend   *float64
	UserFeedbackScore  *float64
	PolicyViolations7d *int
	TimeInServiceDays  *int
}

// Engine recomputes and persists trust scores, emitting the paired
// increase/decrease event when the recomputed score moves.
type Engine struct {
	sources SignalSources
	store   Store
	events  eventstore.Store
	now     func() time.Time
}

// Store reads and writes the agent_trust projection row.
type Store interface {
	Get(ctx context.Context, workspaceID, agentID string) (domain.AgentTrust, error)
	Upsert(ctx context.Context, row domain.AgentTrust) error
}

// NewEngine constructs a trust engine.
func NewEngine(sources SignalSources, store Store, events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{sources: sources, store: store, events: events, now: now}
}

// Recompute derives (or accepts override) components, computes the score,
// persists it, and emits agent.trust.increased/decreased if it moved by
// more than epsilon.
func (e *Engine) Recompute(ctx context.Context, workspaceID, agentID string, overrides Overrides) (domain.AgentTrust, error) {
	now := e.now()
	components, err := e.resolveComponents(ctx, workspaceID, agentID, overrides, now)
	if err != nil {
		return domain.AgentTrust{}, err
	}

	newScore := Compute(components)

	prior, err := e.store.Get(ctx, workspaceID, agentID)
	if err != nil {
		return domain.AgentTrust{}, err
	}

	updated := domain.AgentTrust{
		AgentID: agentID, WorkspaceID: workspaceID,
		Score: newScore, Components: components, UpdatedAt: now,
	}
	if err := e.store.Upsert(ctx, updated); err != nil {
		return domain.AgentTrust{}, err
	}

	delta := newScore - prior.Score
	if math.Abs(delta) > epsilon {
		eventType := "agent.trust.increased"
		if delta < 0 {
			eventType = "agent.trust.decreased"
		}
		if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
			EventType:   eventType,
			OccurredAt:  now,
			WorkspaceID: workspaceID,
			Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
			Actor:       domain.Actor{Type: domain.ActorTypeService, ID: "trust_engine"},
			CorrelationID: agentID,
			Data: map[string]any{
				"agent_id": agentID, "score": newScore, "prior_score": prior.Score,
			},
		}); err != nil {
			return domain.AgentTrust{}, err
		}
	}

	return updated, nil
}

func (e *Engine) resolveComponents(ctx context.Context, workspaceID, agentID string, o Overrides, now time.Time) (domain.TrustComponents, error) {
	var c domain.TrustComponents

	if o.SuccessRate7d != nil {
		c.SuccessRate7d = clamp01(*o.SuccessRate7d)
	} else {
		v, err := e.sources.SuccessRate7d(ctx, workspaceID, agentID)
		if err != nil {
			return c, err
		}
		c.SuccessRate7d = clamp01(v)
	}

	if o.EvalQualityTrend != nil {
		c.EvalQualityTrend = clamp(*o.EvalQualityTrend, -1, 1)
	} else {
		c.EvalQualityTrend = 0
	}

	if o.UserFeedbackScore != nil {
		c.UserFeedbackScore = clamp01(*o.UserFeedbackScore)
	} else {
		v, err := e.sources.UserFeedbackScore(ctx, workspaceID, agentID)
		if err != nil {
			return c, err
		}
		c.UserFeedbackScore = clamp01(v)
	}

	if o.PolicyViolations7d != nil {
		c.PolicyViolations7d = nonNegative(*o.PolicyViolations7d)
	} else {
		v, err := e.sources.PolicyViolations7d(ctx, workspaceID, agentID)
		if err != nil {
			return c, err
		}
		c.PolicyViolations7d = nonNegative(v)
	}

	if o.TimeInServiceDays != nil {
		c.TimeInServiceDays = nonNegative(*o.TimeInServiceDays)
	} else {
		v, err := e.sources.TimeInServiceDays(ctx, workspaceID, agentID, now)
		if err != nil {
			return c, err
		}
		c.TimeInServiceDays = nonNegative(v)
	}

	return c, nil
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
