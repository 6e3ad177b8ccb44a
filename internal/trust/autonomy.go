package trust

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/policy"
)

// autonomy thresholds, §4.8.
const (
	externalWriteAutoThreshold = 0.85
	internalWriteAutoThreshold = 0.75
	internalWritePostThreshold = 0.45
)

// AutonomySignals carries the behavioral counters the approval-mode
// recommendation dampens on, alongside the trust score itself.
type AutonomySignals struct {
	Score                float64
	Quarantined          bool
	RepeatedMistakes7d   int
	AutonomyRate7d        float64
	AssessmentFailed7d   int
	PassRate30d          float64
	PassRate30dAttempts  int
	ScopedActions        []policy.ActionRegistryRow
}

// autonomyTargets names the three rows the recommendation always builds.
var autonomyTargets = []string{"internal_write", "external_write", "high_stakes"}

// RecommendApprovalMode builds the three target rows {internal_write,
// external_write, high_stakes} and assigns each an AutonomyMode, applying
// every dampening risk as a monotonic-only downgrade (auto -> post -> pre
// -> blocked, never the reverse).
func RecommendApprovalMode(s AutonomySignals) []domain.TargetAutonomyMode {
	results := make([]domain.TargetAutonomyMode, 0, len(autonomyTargets))
	for _, target := range autonomyTargets {
		mode, reason := baselineMode(target, s.Score)

		if target == "high_stakes" {
			mode = domain.Dampen(mode, domain.AutonomyModePre)
		}
		if s.Quarantined {
			mode = domain.Dampen(mode, domain.AutonomyModeBlocked)
			reason = "agent_quarantined"
		}
		if s.RepeatedMistakes7d >= 2 {
			mode = domain.Dampen(mode, domain.AutonomyModePost)
			reason = appendReason(reason, "repeated_mistakes")
		}
		if s.AutonomyRate7d < 0.5 {
			mode = domain.Dampen(mode, domain.AutonomyModePost)
			reason = appendReason(reason, "low_autonomy_rate")
		}
		if s.AssessmentFailed7d >= 2 || (s.PassRate30dAttempts >= 3 && s.PassRate30d < 0.6) {
			mode = domain.Dampen(mode, domain.AutonomyModePre)
			reason = appendReason(reason, "assessment_quality")
		}
		if row, ok := highestCostAction(s.ScopedActions); ok {
			if row.CostImpact == policy.CostImpactHigh || row.RecoveryDifficulty == policy.RecoveryHard {
				mode = domain.Dampen(mode, domain.AutonomyModePre)
				reason = appendReason(reason, "cost_impact:"+string(row.CostImpact)+",recovery:"+string(row.RecoveryDifficulty))
			}
		}

		results = append(results, domain.TargetAutonomyMode{Target: target, Mode: mode, Reason: reason})
	}
	return results
}

func baselineMode(target string, score float64) (domain.AutonomyMode, string) {
	switch target {
	case "external_write":
		if score >= externalWriteAutoThreshold {
			return domain.AutonomyModeAuto, "score_above_external_write_threshold"
		}
		return domain.AutonomyModePost, "score_below_external_write_threshold"
	case "internal_write":
		if score >= internalWriteAutoThreshold {
			return domain.AutonomyModeAuto, "score_above_internal_write_threshold"
		}
		if score >= internalWritePostThreshold {
			return domain.AutonomyModePost, "score_above_internal_write_post_threshold"
		}
		return domain.AutonomyModePre, "score_below_internal_write_post_threshold"
	default: // high_stakes always starts at pre, dampened further above.
		return domain.AutonomyModePre, "high_stakes_floor"
	}
}

func appendReason(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + ";" + add
}

func highestCostAction(rows []policy.ActionRegistryRow) (policy.ActionRegistryRow, bool) {
	var best policy.ActionRegistryRow
	found := false
	rank := map[policy.CostImpact]int{policy.CostImpactLow: 0, policy.CostImpactMedium: 1, policy.CostImpactHigh: 2}
	for _, r := range rows {
		if !found || rank[r.CostImpact] > rank[best.CostImpact] {
			best = r
			found = true
		}
	}
	return best, found
}

// RecommendationStore persists and retrieves autonomy recommendations.
type RecommendationStore interface {
	Insert(ctx context.Context, rec domain.AutonomyRecommendation) error
}

// CreateRecommendation records a pending scope-delta recommendation backed
// by the given trust snapshot and appends autonomy.upgrade.recommended for
// it; internal/approval's ApproveRecommendation later consumes the pending
// row.
func CreateRecommendation(ctx context.Context, store RecommendationStore, events eventstore.Store, now func() time.Time, workspaceID, agentID string, scopeDelta domain.TokenScope, trustBefore, trustAfter float64) (domain.AutonomyRecommendation, error) {
	if now == nil {
		now = time.Now
	}
	rec := domain.AutonomyRecommendation{
		ID: uuid.NewString(), WorkspaceID: workspaceID, AgentID: agentID,
		ScopeDelta: scopeDelta, TrustBefore: trustBefore, TrustAfter: trustAfter,
		Status: domain.AutonomyRecommendationPending, CreatedAt: now(),
	}
	if err := store.Insert(ctx, rec); err != nil {
		return domain.AutonomyRecommendation{}, err
	}
	if _, err := events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "autonomy.upgrade.recommended",
		OccurredAt:  rec.CreatedAt,
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeService, ID: "trust_engine"},
		CorrelationID: rec.ID,
		Data: map[string]any{
			"recommendation_id": rec.ID, "agent_id": agentID, "scope_delta": scopeDelta,
			"trust_before": trustBefore, "trust_after": trustAfter,
		},
	}); err != nil {
		return domain.AutonomyRecommendation{}, err
	}
	return rec, nil
}
