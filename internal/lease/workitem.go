// Package lease implements both lease families: work-item leases (a
// generic exclusive hold over an arbitrary workspace entity) and
// run-execution leases (the advisory-lock-guarded claim of a run by an
// engine). Both share the same claim/heartbeat/release shape but differ
// in storage: work-item leases live in their own table, run-execution
// leases live on the run row plus an append-only attempts ledger.
package lease

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/eventstore"
	"github.com/agentctl/core/internal/platform/database"
)

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Lease   domain.WorkItemLease
	Replay  bool // an existing live lease for the same agent+correlation was returned
	Created bool // a brand-new or reclaimed lease was created (HTTP 201)
}

// Manager implements work-item lease claim/heartbeat/release.
type Manager struct {
	db     *sql.DB
	events eventstore.Store
	now    func() time.Time

	durationSeconds        int
	heartbeatMinIntervalSec int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Config configures a Manager.
type Config struct {
	DurationSeconds        int
	HeartbeatMinIntervalSec int
	Now                     func() time.Time
}

// NewManager constructs a work-item lease manager.
func NewManager(db *sql.DB, events eventstore.Store, cfg Config) *Manager {
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = 300
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		db: db, events: events, now: cfg.Now,
		durationSeconds: cfg.DurationSeconds, heartbeatMinIntervalSec: cfg.HeartbeatMinIntervalSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Claim attempts to acquire the lease on (workspaceID, workItemType, workItemID).
func (m *Manager) Claim(ctx context.Context, workspaceID string, workItemType domain.WorkItemType, workItemID, agentID, correlationID string) (ClaimResult, error) {
	if !domain.ValidWorkItemType(workItemType) {
		return ClaimResult{}, serviceerrors.New(serviceerrors.ReasonInvalidWorkItemType, "unrecognized work item type")
	}

	now := m.now()
	newLeaseID := uuid.NewString()
	expiresAt := now.Add(time.Duration(m.durationSeconds) * time.Second)

	var result ClaimResult
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var (
			oldLeaseID, oldAgentID string
			oldExpiresAt           time.Time
			hadPriorRow            bool
		)
		row := tx.QueryRowContext(ctx, `
			SELECT lease_id, agent_id, expires_at FROM work_item_leases
			WHERE workspace_id = $1 AND work_item_type = $2 AND work_item_id = $3
		`, workspaceID, workItemType, workItemID)
		switch err := row.Scan(&oldLeaseID, &oldAgentID, &oldExpiresAt); err {
		case nil:
			hadPriorRow = true
		case sql.ErrNoRows:
			hadPriorRow = false
		default:
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_item_leases (
				lease_id, workspace_id, work_item_type, work_item_id, agent_id,
				correlation_id, version, claimed_at, heartbeat_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7, $8)
			ON CONFLICT (workspace_id, work_item_type, work_item_id)
			DO UPDATE SET
				lease_id = EXCLUDED.lease_id, agent_id = EXCLUDED.agent_id,
				correlation_id = EXCLUDED.correlation_id, version = 1,
				claimed_at = EXCLUDED.claimed_at, heartbeat_at = EXCLUDED.heartbeat_at,
				expires_at = EXCLUDED.expires_at
			WHERE work_item_leases.expires_at < $7
		`, newLeaseID, workspaceID, workItemType, workItemID, agentID, correlationID, now, expiresAt)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 1 {
			// Appended through tx, not AppendToStream: the upsert above
			// already mutated this row in this same transaction, so the
			// event must commit with it rather than in a second,
			// independently-committing transaction.
			if hadPriorRow {
				if err := m.emitLeasePreempted(ctx, tx, workspaceID, oldLeaseID, oldAgentID, "expired_lease_reclaimed", correlationID, agentID); err != nil {
					return err
				}
			}
			lease := domain.WorkItemLease{
				LeaseID: newLeaseID, WorkspaceID: workspaceID, WorkItemType: workItemType, WorkItemID: workItemID,
				AgentID: agentID, CorrelationID: correlationID, Version: 1,
				ClaimedAt: now, HeartbeatAt: now, ExpiresAt: expiresAt,
			}
			if err := m.emitLeaseClaimed(ctx, tx, lease); err != nil {
				return err
			}
			result = ClaimResult{Lease: lease, Created: true}
			return nil
		}

		// Lease is held by someone else (or the same agent): re-read current.
		var cur domain.WorkItemLease
		row = tx.QueryRowContext(ctx, `
			SELECT lease_id, agent_id, correlation_id, version, claimed_at, heartbeat_at, expires_at
			FROM work_item_leases WHERE workspace_id = $1 AND work_item_type = $2 AND work_item_id = $3
		`, workspaceID, workItemType, workItemID)
		if err := row.Scan(&cur.LeaseID, &cur.AgentID, &cur.CorrelationID, &cur.Version, &cur.ClaimedAt, &cur.HeartbeatAt, &cur.ExpiresAt); err != nil {
			return err
		}
		cur.WorkspaceID = workspaceID
		cur.WorkItemType = workItemType
		cur.WorkItemID = workItemID

		if cur.AgentID == agentID && cur.CorrelationID == correlationID {
			result = ClaimResult{Lease: cur, Replay: true}
			return nil
		}
		if cur.AgentID == agentID && cur.CorrelationID != correlationID {
			return serviceerrors.New(serviceerrors.ReasonCorrelationIDMismatch, "lease claimed by same agent under a different correlation id")
		}
		return serviceerrors.New(serviceerrors.ReasonAlreadyClaimed, "work item already claimed")
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}

// Heartbeat extends a held lease, subject to the minimum heartbeat
// interval and version match.
func (m *Manager) Heartbeat(ctx context.Context, leaseID, agentID string, version int) (domain.WorkItemLease, error) {
	if !m.allowHeartbeat(leaseID) {
		return domain.WorkItemLease{}, serviceerrors.New(serviceerrors.ReasonHeartbeatRateLimited, "heartbeat rate limited")
	}

	now := m.now()
	newExpiresAt := now.Add(time.Duration(m.durationSeconds) * time.Second)

	var result domain.WorkItemLease
	err := database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE work_item_leases
			SET version = version + 1, heartbeat_at = $1, expires_at = $2
			WHERE lease_id = $3 AND agent_id = $4 AND version = $5 AND expires_at > $1
			  AND (heartbeat_at <= $1 - ($6 * INTERVAL '1 second'))
		`, now, newExpiresAt, leaseID, agentID, version, m.heartbeatMinIntervalSec)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 1 {
			row := tx.QueryRowContext(ctx, `
				SELECT lease_id, workspace_id, work_item_type, work_item_id, agent_id,
				       correlation_id, version, claimed_at, heartbeat_at, expires_at
				FROM work_item_leases WHERE lease_id = $1
			`, leaseID)
			return row.Scan(&result.LeaseID, &result.WorkspaceID, &result.WorkItemType, &result.WorkItemID,
				&result.AgentID, &result.CorrelationID, &result.Version, &result.ClaimedAt, &result.HeartbeatAt, &result.ExpiresAt)
		}

		return m.diagnoseHeartbeatFailure(ctx, tx, leaseID, agentID, version, now)
	})
	if err != nil {
		return domain.WorkItemLease{}, err
	}
	return result, nil
}

func (m *Manager) diagnoseHeartbeatFailure(ctx context.Context, tx *sql.Tx, leaseID, agentID string, version int, now time.Time) error {
	var cur domain.WorkItemLease
	row := tx.QueryRowContext(ctx, `
		SELECT lease_id, agent_id, version, heartbeat_at, expires_at FROM work_item_leases WHERE lease_id = $1
	`, leaseID)
	if err := row.Scan(&cur.LeaseID, &cur.AgentID, &cur.Version, &cur.HeartbeatAt, &cur.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return serviceerrors.New(serviceerrors.ReasonLeaseNotOwned, "lease not found")
		}
		return err
	}
	if cur.AgentID != agentID || cur.ExpiresAt.Before(now) {
		return serviceerrors.New(serviceerrors.ReasonLeaseNotOwned, "lease not owned by this agent")
	}
	if cur.Version != version {
		return serviceerrors.New(serviceerrors.ReasonLeaseVersionMismatch, "lease version is stale")
	}
	return serviceerrors.New(serviceerrors.ReasonHeartbeatRateLimited, "heartbeat sent before minimum interval elapsed")
}

// Release drops a held lease.
func (m *Manager) Release(ctx context.Context, leaseID, agentID string) (released bool, err error) {
	err = database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		var workspaceID, workItemType, workItemID, curAgentID string
		row := tx.QueryRowContext(ctx, `
			SELECT workspace_id, work_item_type, work_item_id, agent_id FROM work_item_leases WHERE lease_id = $1
		`, leaseID)
		switch err := row.Scan(&workspaceID, &workItemType, &workItemID, &curAgentID); err {
		case sql.ErrNoRows:
			released = false
			return nil
		case nil:
		default:
			return err
		}

		if curAgentID != agentID {
			return serviceerrors.New(serviceerrors.ReasonLeaseNotOwned, "lease held by a different agent")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM work_item_leases WHERE lease_id = $1`, leaseID); err != nil {
			return err
		}
		released = true
		return m.emitLeaseReleased(ctx, tx, workspaceID, leaseID, agentID, workItemType, workItemID)
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (m *Manager) allowHeartbeat(leaseID string) bool {
	if m.heartbeatMinIntervalSec <= 0 {
		return true
	}
	m.mu.Lock()
	limiter, ok := m.limiters[leaseID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Duration(m.heartbeatMinIntervalSec)*time.Second), 1)
		m.limiters[leaseID] = limiter
	}
	m.mu.Unlock()
	return limiter.Allow()
}

func (m *Manager) emitLeaseClaimed(ctx context.Context, tx *sql.Tx, lease domain.WorkItemLease) error {
	_, err := m.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
		EventType:   "lease.claimed",
		OccurredAt:  m.now(),
		WorkspaceID: lease.WorkspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: lease.WorkspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: lease.AgentID},
		CorrelationID: lease.CorrelationID,
		Data: map[string]any{
			"lease_id": lease.LeaseID, "work_item_type": lease.WorkItemType, "work_item_id": lease.WorkItemID,
		},
	})
	return err
}

func (m *Manager) emitLeasePreempted(ctx context.Context, tx *sql.Tx, workspaceID, oldLeaseID, oldAgentID, reason, correlationID, newAgentID string) error {
	_, err := m.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
		EventType:   "lease.preempted",
		OccurredAt:  m.now(),
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: newAgentID},
		CorrelationID: correlationID,
		Data: map[string]any{
			"old_lease_id": oldLeaseID, "old_agent_id": oldAgentID, "reason": reason,
		},
	})
	return err
}

func (m *Manager) emitLeaseReleased(ctx context.Context, tx *sql.Tx, workspaceID, leaseID, agentID string, workItemType, workItemID string) error {
	_, err := m.events.AppendToStreamTx(ctx, tx, domain.NewEventInput{
		EventType:   "lease.released",
		OccurredAt:  m.now(),
		WorkspaceID: workspaceID,
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: workspaceID},
		Actor:       domain.Actor{Type: domain.ActorTypeAgent, ID: agentID},
		CorrelationID: leaseID,
		Data: map[string]any{
			"lease_id": leaseID, "work_item_type": workItemType, "work_item_id": workItemID,
		},
	})
	return err
}
