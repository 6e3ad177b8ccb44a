// Package pipeline resolves every tracked workspace entity (experiments,
// runs) to one of six kanban-like stages, purely as a function of a
// normalized snapshot — no side effects, no I/O.
package pipeline

import (
	"github.com/agentctl/core/internal/domain"
)

// DiagnosticMissingData explains a 1_inbox resolution caused by missing
// required fields.
const DiagnosticMissingData = "missing_data"

// DiagnosticGhostEvidenceOrMismatch explains a 4_review_evidence
// resolution where a passing scorecard doesn't actually bind to the
// entity's current run/evidence.
const DiagnosticGhostEvidenceOrMismatch = "ghost_evidence_or_mismatch"

// DiagnosticUnmatchedState explains a 1_inbox fallthrough resolution.
const DiagnosticUnmatchedState = "unmatched_state"

var terminalFailureRunStatuses = map[string]bool{
	string(domain.RunStatusFailed): true,
	"timed_out":                    true,
	"cancelled":                    true,
}

// Resolve implements the first-match-wins stage rules.
func Resolve(s domain.EntitySnapshot) (domain.PipelineStage, string) {
	if s.IsArchived || s.IsDeleted {
		return "", ""
	}
	if s.RequiredFieldsMissing {
		return domain.StageInbox, DiagnosticMissingData
	}
	if s.HasActiveIncident {
		return domain.StageDemoted, ""
	}
	if terminalFailureRunStatuses[string(s.LatestRunStatus)] {
		return domain.StageDemoted, ""
	}
	if s.LatestScorecardDecision == domain.ScorecardFail {
		return domain.StageDemoted, ""
	}
	if s.LatestEvidenceStatus == domain.EvidenceStatusRejected {
		return domain.StageExecuteWorkspace, ""
	}

	scorecardMissingOrPending := s.LatestScorecardDecision == "" || s.LatestScorecardDecision == domain.ScorecardPending
	if s.LatestRunStatus == domain.RunStatusSucceeded && scorecardMissingOrPending {
		return domain.StageReviewEvidence, ""
	}

	if s.LatestScorecardDecision == domain.ScorecardPass {
		bindingsMatch := s.ScorecardRunID == s.LatestRunID &&
			s.ScorecardEvidenceID == s.LatestEvidenceID &&
			s.LatestEvidenceRunID == s.LatestRunID
		if bindingsMatch && !s.HasActiveIncident {
			return domain.StagePromoted, ""
		}
		return domain.StageReviewEvidence, DiagnosticGhostEvidenceOrMismatch
	}

	if s.LatestEvidenceStatus == domain.EvidenceStatusCreated || s.LatestEvidenceStatus == domain.EvidenceStatusUnderReview {
		return domain.StageReviewEvidence, ""
	}
	if s.LatestRunStatus == domain.RunStatusQueued || s.LatestRunStatus == domain.RunStatusRunning {
		return domain.StageExecuteWorkspace, ""
	}
	if s.HasPendingApproval {
		return domain.StagePendingApproval, ""
	}
	if s.EntityType == domain.EntityKindExperiment && s.OwnStatus == string(domain.ExperimentStatusOpen) {
		return domain.StageInbox, ""
	}
	return domain.StageInbox, DiagnosticUnmatchedState
}

// Skip reports whether the snapshot should be excluded from the pipeline
// entirely (archived or deleted entities never get a row).
func Skip(s domain.EntitySnapshot) bool {
	return s.IsArchived || s.IsDeleted
}
