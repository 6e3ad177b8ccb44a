package lease

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/platform/database"
)

// RunManager implements run-execution lease claim/heartbeat/release. Run
// leases live on the run row itself plus an append-only run_attempts
// ledger, and the claim window is serialized per run_id by a Postgres
// advisory lock to close the TOCTOU gap between candidate lookup and
// the transition to running.
type RunManager struct {
	db     *sql.DB
	events eventstore.Store
	now    func() time.Time

	durationSeconds int
}

// NewRunManager constructs a run-execution lease manager.
func NewRunManager(db *sql.DB, events eventstore.Store, durationSeconds int, now func() time.Time) *RunManager {
	if durationSeconds <= 0 {
		durationSeconds = 300
	}
	if now == nil {
		now = time.Now
	}
	return &RunManager{db: db, events: events, now: now, durationSeconds: durationSeconds}
}

// RunClaimResult is returned by Claim.
type RunClaimResult struct {
	RunID      string
	ClaimToken string
	AttemptNo  int
	ExpiresAt  time.Time
}

// Claim attempts to claim runID for engineActorID. It acquires the
// per-run advisory lock, re-checks the claim window inside it, and only
// then transitions the run to running.
func (m *RunManager) Claim(ctx context.Context, runID, engineActorID, correlationID string) (RunClaimResult, error) {
	now := m.now()
	claimToken := uuid.NewString()
	expiresAt := now.Add(time.Duration(m.durationSeconds) * time.Second)

	var result RunClaimResult
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		locked, err := database.TryAdvisoryLockOnRunID(ctx, tx, runID)
		if err != nil {
			return err
		}
		if !locked {
			return serviceerrors.New(serviceerrors.ReasonAlreadyClaimed, "run claim window is held by another request")
		}

		var status domain.RunStatus
		var leaseExpiresAt sql.NullTime
		var priorClaimToken sql.NullString
		row := tx.QueryRowContext(ctx, `
			SELECT status, lease_expires_at, claim_token FROM runs WHERE id = $1 FOR UPDATE
		`, runID)
		if err := row.Scan(&status, &leaseExpiresAt, &priorClaimToken); err != nil {
			if err == sql.ErrNoRows {
				return serviceerrors.New(serviceerrors.ReasonUnknownAgent, "run not found")
			}
			return err
		}

		expiredReclaim := status == domain.RunStatusRunning && leaseExpiresAt.Valid && leaseExpiresAt.Time.Before(now)
		claimable := status == domain.RunStatusQueued || expiredReclaim
		if !claimable {
			return serviceerrors.New(serviceerrors.ReasonAlreadyClaimed, "run is not in a claimable state")
		}

		var attemptNo int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(attempt_no), 0) + 1 FROM run_attempts WHERE run_id = $1`, runID).Scan(&attemptNo); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = $1, claim_token = $2, claimed_by_actor_id = $3,
			    lease_expires_at = $4, lease_heartbeat_at = $5, updated_at = $5
			WHERE id = $6
		`, domain.RunStatusRunning, claimToken, engineActorID, expiresAt, now, runID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_attempts (id, run_id, attempt_no, claim_token, claimed_by, engine_id, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), runID, attemptNo, claimToken, engineActorID, engineActorID, now); err != nil {
			return err
		}

		var runRow struct {
			WorkspaceID string
			RoomID      string
		}
		if err := tx.QueryRowContext(ctx, `SELECT workspace_id, room_id FROM runs WHERE id = $1`, runID).Scan(&runRow.WorkspaceID, &runRow.RoomID); err != nil {
			return err
		}

		// Appended through tx, not AppendToStream: the run row above is
		// held under FOR UPDATE in this same transaction, and runProjector
		// re-touches that row. A second, independently-opened transaction
		// here would block on it and hang until statement_timeout.
		if expiredReclaim && priorClaimToken.Valid && priorClaimToken.String != "" {
			if _, err := m.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
				EventType:   "lease.preempted",
				OccurredAt:  now,
				WorkspaceID: runRow.WorkspaceID,
				Scope:       domain.Scope{RoomID: runRow.RoomID, RunID: runID},
				Stream:      domain.Stream{Type: domain.StreamTypeRoom, ID: runRow.RoomID},
				Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: engineActorID},
				CorrelationID: correlationID,
				Data: map[string]any{
					"run_id": runID, "old_lease_id": priorClaimToken.String,
					"reason": "expired_lease_reclaimed", "attempt_no": attemptNo,
				},
			}); err != nil {
				return err
			}
		}

		if _, err := m.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
			EventType:   string("run.started"),
			OccurredAt:  now,
			WorkspaceID: runRow.WorkspaceID,
			Scope:       domain.Scope{RoomID: runRow.RoomID, RunID: runID},
			Stream:      domain.Stream{Type: domain.StreamTypeRoom, ID: runRow.RoomID},
			Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: engineActorID},
			CorrelationID: correlationID,
			Data: map[string]any{
				"run_id": runID, "claim_token": claimToken, "attempt_no": attemptNo,
			},
		}); err != nil {
			return err
		}

		result = RunClaimResult{RunID: runID, ClaimToken: claimToken, AttemptNo: attemptNo, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return RunClaimResult{}, err
	}
	return result, nil
}

// Heartbeat extends a claimed run's lease.
func (m *RunManager) Heartbeat(ctx context.Context, runID, claimToken string) error {
	now := m.now()
	newExpiresAt := now.Add(time.Duration(m.durationSeconds) * time.Second)

	return database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET lease_expires_at = $1, lease_heartbeat_at = $1, updated_at = $1
			WHERE id = $2 AND claim_token = $3 AND status = $4 AND lease_expires_at > $5
		`, newExpiresAt, runID, claimToken, domain.RunStatusRunning, now)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return serviceerrors.New(serviceerrors.ReasonLeaseNotOwned, "run lease not held by this claim token")
		}
		return nil
	})
}

// Release drops a held run-execution lease without finishing the run,
// e.g. a voluntary hand-back by the engine.
func (m *RunManager) Release(ctx context.Context, runID, claimToken, reason string) error {
	now := m.now()
	return database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = $1, claim_token = '', claimed_by_actor_id = '',
			    lease_expires_at = NULL, lease_heartbeat_at = NULL, updated_at = $2
			WHERE id = $3 AND claim_token = $4 AND status = $5
		`, domain.RunStatusQueued, now, runID, claimToken, domain.RunStatusRunning)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return serviceerrors.New(serviceerrors.ReasonLeaseNotOwned, "run lease not held by this claim token")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE run_attempts SET released_at = $1, release_reason = $2
			WHERE run_id = $3 AND claim_token = $4
		`, now, reason, runID, claimToken)
		return err
	})
}
