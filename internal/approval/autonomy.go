package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/platform/database"
)

// AutonomyDecisionResult is returned by ApproveRecommendation.
type AutonomyDecisionResult struct {
	TokenID        string
	AlreadyApproved bool
}

// ApproveRecommendation consumes a pending autonomy recommendation,
// issues a capability token, and transitions the recommendation to
// approved. Approving an already-approved recommendation is a replay
// returning the existing token id; approving a rejected one fails.
func ApproveRecommendation(ctx context.Context, db *sql.DB, events eventstore.Store, now func() time.Time, recommendationID, decidedByID string) (AutonomyDecisionResult, error) {
	if now == nil {
		now = time.Now
	}

	var result AutonomyDecisionResult
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		var rec domain.AutonomyRecommendation
		var tokenID sql.NullString
		var scopeDelta []byte
		row := tx.QueryRowContext(ctx, `
			SELECT id, workspace_id, agent_id, scope_delta, status, token_id
			FROM autonomy_recommendations WHERE id = $1
		`, recommendationID)
		if err := row.Scan(&rec.ID, &rec.WorkspaceID, &rec.AgentID, &scopeDelta, &rec.Status, &tokenID); err != nil {
			if err == sql.ErrNoRows {
				return serviceerrors.New(serviceerrors.ReasonRecommendationNotPending, "recommendation not found")
			}
			return err
		}
		if len(scopeDelta) > 0 {
			if err := json.Unmarshal(scopeDelta, &rec.ScopeDelta); err != nil {
				return err
			}
		}

		if rec.Status == domain.AutonomyRecommendationApproved {
			result = AutonomyDecisionResult{TokenID: tokenID.String, AlreadyApproved: true}
			return nil
		}
		if rec.Status != domain.AutonomyRecommendationPending {
			return serviceerrors.New(serviceerrors.ReasonRecommendationNotPending, "recommendation is not pending")
		}

		newTokenID := uuid.NewString()
		nowTS := now()

		// Appended through tx, not AppendToStream: both events and the
		// recommendation's status UPDATE below must commit together, or a
		// partial failure after the appends commit would leave the
		// recommendation pending and a retry would mint a second token.
		if _, err := events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
			EventType:   "agent.capability.granted",
			OccurredAt:  nowTS,
			WorkspaceID: rec.WorkspaceID,
			Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: rec.WorkspaceID},
			Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: decidedByID},
			CorrelationID: recommendationID,
			Data: map[string]any{
				"token_id": newTokenID, "agent_id": rec.AgentID, "principal_id": rec.AgentID,
				"recommendation_id": recommendationID, "scope": rec.ScopeDelta, "valid_until": nil,
			},
		}); err != nil {
			return err
		}

		if _, err := events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
			EventType:   "autonomy.upgrade.approved",
			OccurredAt:  nowTS,
			WorkspaceID: rec.WorkspaceID,
			Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: rec.WorkspaceID},
			Actor:       domain.Actor{Type: domain.ActorTypeUser, ID: decidedByID},
			CorrelationID: recommendationID,
			Data: map[string]any{
				"recommendation_id": recommendationID, "token_id": newTokenID,
			},
		}); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE autonomy_recommendations SET status = $1, token_id = $2, decided_at = $3 WHERE id = $4
		`, domain.AutonomyRecommendationApproved, newTokenID, nowTS, recommendationID); err != nil {
			return err
		}

		result = AutonomyDecisionResult{TokenID: newTokenID}
		return nil
	})
	if err != nil {
		return AutonomyDecisionResult{}, err
	}
	return result, nil
}
