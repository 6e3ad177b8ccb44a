package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/pipeline"
	"github.com/agentctl/core/internal/projector"
)

// NewPipelineProjector builds the C10 pipeline snapshot projector. It
// lives in this package, not internal/projector, because it resolves a
// snapshot by reading the run/experiment/evidence/scorecard/incident/
// approval rows the other projectors in this same package just wrote,
// all within the triggering event's own transaction; internal/projector
// cannot depend on this package's store helpers without an import cycle
// (this package already depends on internal/projector for EventKind and
// the registry it's constructed from).
func NewPipelineProjector() *projector.Projector {
	return &projector.Projector{
		Name: "pipelineProjector",
		Kinds: []projector.EventKind{
			projector.EventRunCreated, projector.EventRunStarted,
			projector.EventRunCompleted, projector.EventRunFailed,
			projector.EventExperimentCreated, projector.EventExperimentUpdated, projector.EventExperimentClosed,
			projector.EventEvidenceCreated, projector.EventEvidenceUnderReview, projector.EventEvidenceRejected,
			projector.EventScorecardRecorded,
			projector.EventIncidentOpened, projector.EventIncidentRCAUpdated,
			projector.EventIncidentLearningLogged, projector.EventIncidentClosed,
			projector.EventApprovalRequested, projector.EventApprovalDecided,
		},
		Apply: applyPipeline,
	}
}

func applyPipeline(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch projector.EventKind(env.EventType) {
	case projector.EventRunCreated, projector.EventRunStarted, projector.EventRunCompleted, projector.EventRunFailed:
		return recomputeForRun(ctx, tx, env.WorkspaceID, env.Scope.RunID, env.EventID, env.OccurredAt)

	case projector.EventExperimentCreated, projector.EventExperimentUpdated, projector.EventExperimentClosed:
		return recomputeExperiment(ctx, tx, env.WorkspaceID, env.Scope.ExperimentID, env.EventID, env.OccurredAt)

	case projector.EventEvidenceCreated, projector.EventEvidenceUnderReview, projector.EventEvidenceRejected,
		projector.EventScorecardRecorded, projector.EventIncidentOpened, projector.EventIncidentRCAUpdated,
		projector.EventIncidentLearningLogged, projector.EventIncidentClosed:
		return recomputeForRun(ctx, tx, env.WorkspaceID, env.Scope.RunID, env.EventID, env.OccurredAt)

	case projector.EventApprovalRequested, projector.EventApprovalDecided:
		return recomputeForApproval(ctx, tx, env)
	}
	return nil
}

func recomputeForApproval(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	runID, _ := env.Data["run_id"].(string)
	experimentID, _ := env.Data["experiment_id"].(string)

	// approval.decided doesn't carry the binding in its own event data;
	// look it up from the row the approval.requested projector already
	// wrote.
	if runID == "" && experimentID == "" {
		if approvalID, _ := env.Data["approval_id"].(string); approvalID != "" {
			var runIDCol, experimentIDCol sql.NullString
			err := tx.QueryRowContext(ctx, `
				SELECT run_id, experiment_id FROM approvals WHERE id = $1
			`, approvalID).Scan(&runIDCol, &experimentIDCol)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			runID, experimentID = runIDCol.String, experimentIDCol.String
		}
	}

	if runID != "" {
		if err := recomputeForRun(ctx, tx, env.WorkspaceID, runID, env.EventID, env.OccurredAt); err != nil {
			return err
		}
	}
	if experimentID != "" {
		if err := recomputeExperiment(ctx, tx, env.WorkspaceID, experimentID, env.EventID, env.OccurredAt); err != nil {
			return err
		}
	}
	return nil
}

// recomputeForRun rebuilds and upserts the run entity's own pipeline
// snapshot, then does the same for its parent experiment, if any, since
// the experiment's latest_run_status tracks this run.
func recomputeForRun(ctx context.Context, tx *sql.Tx, workspaceID, runID, lastEventID string, occurredAt time.Time) error {
	if runID == "" {
		return nil
	}

	run, err := runByID(ctx, tx, runID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	snap, err := runSnapshot(ctx, tx, workspaceID, run, occurredAt)
	if err != nil {
		return err
	}
	if err := pipeline.ApplySnapshot(ctx, TxSnapshotStore(tx), snap, lastEventID); err != nil {
		return err
	}

	if run.ExperimentID != "" {
		return recomputeExperiment(ctx, tx, workspaceID, run.ExperimentID, lastEventID, occurredAt)
	}
	return nil
}

// runSnapshot assembles the normalized EntitySnapshot for a run entity
// from its own row plus the latest evidence/scorecard/incident/approval
// state bound to it.
func runSnapshot(ctx context.Context, tx *sql.Tx, workspaceID string, run domain.Run, occurredAt time.Time) (domain.EntitySnapshot, error) {
	snap := domain.EntitySnapshot{
		WorkspaceID:           workspaceID,
		EntityType:            domain.EntityKindRun,
		EntityID:              run.ID,
		OwnStatus:             string(run.Status),
		RequiredFieldsMissing: run.Title == "" || run.Goal == "",
		LatestRunStatus:       run.Status,
		LatestRunID:           run.ID,
		UpdatedAt:             occurredAt,
	}

	evidence, hasEvidence, err := latestEvidenceForRun(ctx, tx, workspaceID, run.ID)
	if err != nil {
		return domain.EntitySnapshot{}, err
	}
	if hasEvidence {
		snap.LatestEvidenceStatus = evidence.Status
		snap.LatestEvidenceID = evidence.ID
		snap.LatestEvidenceRunID = evidence.RunID
	}

	scorecard, hasScorecard, err := latestScorecardForRun(ctx, tx, workspaceID, run.ID)
	if err != nil {
		return domain.EntitySnapshot{}, err
	}
	if hasScorecard {
		snap.LatestScorecardDecision = scorecard.Decision
		snap.ScorecardRunID = scorecard.RunID
		snap.ScorecardEvidenceID = scorecard.EvidenceID
	}

	hasIncident, err := hasActiveIncidentForRun(ctx, tx, workspaceID, run.ID)
	if err != nil {
		return domain.EntitySnapshot{}, err
	}
	snap.HasActiveIncident = hasIncident

	hasPending, err := hasPendingApproval(ctx, tx, workspaceID, "run_id", run.ID)
	if err != nil {
		return domain.EntitySnapshot{}, err
	}
	snap.HasPendingApproval = hasPending

	return snap, nil
}

// recomputeExperiment rebuilds and upserts an experiment entity's
// pipeline snapshot, deriving its latest_run_status from the most
// recently created run bound to it.
func recomputeExperiment(ctx context.Context, tx *sql.Tx, workspaceID, experimentID, lastEventID string, occurredAt time.Time) error {
	if experimentID == "" {
		return nil
	}

	exp, err := experimentByID(ctx, tx, workspaceID, experimentID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	snap := domain.EntitySnapshot{
		WorkspaceID:           workspaceID,
		EntityType:            domain.EntityKindExperiment,
		EntityID:              exp.ID,
		OwnStatus:             string(exp.Status),
		RequiredFieldsMissing: exp.Title == "" || exp.Hypothesis == "",
		UpdatedAt:             occurredAt,
	}

	latestRun, hasRun, err := latestRunForExperiment(ctx, tx, workspaceID, experimentID)
	if err != nil {
		return err
	}
	if hasRun {
		snap.LatestRunStatus = latestRun.Status
		snap.LatestRunID = latestRun.ID

		evidence, hasEvidence, err := latestEvidenceForRun(ctx, tx, workspaceID, latestRun.ID)
		if err != nil {
			return err
		}
		if hasEvidence {
			snap.LatestEvidenceStatus = evidence.Status
			snap.LatestEvidenceID = evidence.ID
			snap.LatestEvidenceRunID = evidence.RunID
		}

		scorecard, hasScorecard, err := latestScorecardForRun(ctx, tx, workspaceID, latestRun.ID)
		if err != nil {
			return err
		}
		if hasScorecard {
			snap.LatestScorecardDecision = scorecard.Decision
			snap.ScorecardRunID = scorecard.RunID
			snap.ScorecardEvidenceID = scorecard.EvidenceID
		}

		hasIncident, err := hasActiveIncidentForRun(ctx, tx, workspaceID, latestRun.ID)
		if err != nil {
			return err
		}
		snap.HasActiveIncident = hasIncident
	}

	hasPending, err := hasPendingApproval(ctx, tx, workspaceID, "experiment_id", experimentID)
	if err != nil {
		return err
	}
	if !hasPending && hasRun {
		hasPending, err = hasPendingApproval(ctx, tx, workspaceID, "run_id", latestRun.ID)
		if err != nil {
			return err
		}
	}
	snap.HasPendingApproval = hasPending

	return pipeline.ApplySnapshot(ctx, TxSnapshotStore(tx), snap, lastEventID)
}
