package domain

import "time"

// TrustComponents are the five recorded signals the trust score is a pure
// function of.
type TrustComponents struct {
	SuccessRate7d      float64 `json:"success_rate_7d"`
	EvalQualityTrend   float64 `json:"eval_quality_trend"`
	UserFeedbackScore  float64 `json:"user_feedback_score"`
	PolicyViolations7d int     `json:"policy_violations_7d"`
	TimeInServiceDays  int     `json:"time_in_service_days"`
}

// AgentTrust is the current trust record for an agent.
type AgentTrust struct {
	AgentID     string          `json:"agent_id"`
	WorkspaceID string          `json:"workspace_id"`
	Score       float64         `json:"score"`
	Components  TrustComponents `json:"components"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AutonomyMode enumerates how much human oversight an action class requires.
type AutonomyMode string

const (
	AutonomyModeAuto    AutonomyMode = "auto"
	AutonomyModePost    AutonomyMode = "post"
	AutonomyModePre     AutonomyMode = "pre"
	AutonomyModeBlocked AutonomyMode = "blocked"
)

// autonomyRank orders modes from least to most restrictive; dampening may
// only move a mode to a higher rank, never lower.
var autonomyRank = map[AutonomyMode]int{
	AutonomyModeAuto:    0,
	AutonomyModePost:    1,
	AutonomyModePre:     2,
	AutonomyModeBlocked: 3,
}

// Dampen returns the more restrictive of the two modes, implementing the
// monotonic-only downgrade rule: a dampening pass can only push a mode
// towards more oversight, never relax it.
func Dampen(mode, floor AutonomyMode) AutonomyMode {
	if autonomyRank[floor] > autonomyRank[mode] {
		return floor
	}
	return mode
}

// AutonomyRecommendationStatus enumerates the lifecycle of a pending scope
// delta.
type AutonomyRecommendationStatus string

const (
	AutonomyRecommendationPending  AutonomyRecommendationStatus = "pending"
	AutonomyRecommendationApproved AutonomyRecommendationStatus = "approved"
	AutonomyRecommendationRejected AutonomyRecommendationStatus = "rejected"
)

// AutonomyRecommendation is a pending request to expand an agent's
// capability scope, backed by a trust snapshot.
type AutonomyRecommendation struct {
	ID          string                        `json:"id"`
	WorkspaceID string                        `json:"workspace_id"`
	AgentID     string                        `json:"agent_id"`
	ScopeDelta  TokenScope                    `json:"scope_delta"`
	TrustBefore float64                       `json:"trust_before"`
	TrustAfter  float64                       `json:"trust_after"`
	Status      AutonomyRecommendationStatus  `json:"status"`
	TokenID     string                        `json:"token_id,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	DecidedAt   *time.Time                    `json:"decided_at,omitempty"`
}

// TargetAutonomyMode is one of the three {internal_write, external_write,
// high_stakes} rows the approval-mode recommendation builds.
type TargetAutonomyMode struct {
	Target string       `json:"target"`
	Mode   AutonomyMode `json:"mode"`
	Reason string       `json:"reason,omitempty"`
}
