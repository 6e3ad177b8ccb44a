package lease

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/storage/memory"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager(t *testing.T, cfg Config) (*Manager, sqlmock.Sqlmock, *memory.EventStore, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	events := memory.NewEventStore()
	return NewManager(db, events, cfg), mock, events, func() { db.Close() }
}

func TestClaimNewWorkItemInsertsAndEmitsClaimed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, events, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT lease_id, agent_id, expires_at FROM work_item_leases`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO work_item_leases`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := m.Claim(context.Background(), "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1")
	require.NoError(t, err)
	require.True(t, result.Created)
	require.False(t, result.Replay)
	require.Equal(t, "agent_1", result.Lease.AgentID)
	require.Equal(t, 1, result.Lease.Version)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "lease.claimed", rows[0].EventType)
}

func TestClaimRejectsUnknownWorkItemType(t *testing.T) {
	m, _, _, closeDB := newTestManager(t, Config{DurationSeconds: 30})
	defer closeDB()

	_, err := m.Claim(context.Background(), "ws_1", domain.WorkItemType("bogus"), "x", "agent_1", "corr_1")
	require.Error(t, err)
}

func TestClaimOfExpiredLeaseEmitsPreemptedThenClaimed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, events, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT lease_id, agent_id, expires_at FROM work_item_leases`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "expires_at"}).
			AddRow("old_lease", "agent_0", now.Add(-time.Minute)))
	mock.ExpectExec(`INSERT INTO work_item_leases`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := m.Claim(context.Background(), "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1")
	require.NoError(t, err)
	require.True(t, result.Created)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "lease.preempted", rows[0].EventType)
	require.Equal(t, "old_lease", rows[0].Data["old_lease_id"])
	require.Equal(t, "lease.claimed", rows[1].EventType)
}

func TestClaimReplayForSameAgentAndCorrelation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT lease_id, agent_id, expires_at FROM work_item_leases`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "expires_at"}).
			AddRow("cur_lease", "agent_1", now.Add(time.Hour)))
	mock.ExpectExec(`INSERT INTO work_item_leases`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT lease_id, agent_id, correlation_id, version, claimed_at, heartbeat_at, expires_at\s+FROM work_item_leases WHERE workspace_id`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "correlation_id", "version", "claimed_at", "heartbeat_at", "expires_at"}).
			AddRow("cur_lease", "agent_1", "corr_1", 1, now, now, now.Add(time.Hour)))
	mock.ExpectCommit()

	result, err := m.Claim(context.Background(), "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1")
	require.NoError(t, err)
	require.True(t, result.Replay)
	require.False(t, result.Created)
	require.Equal(t, "cur_lease", result.Lease.LeaseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimMismatchedCorrelationIDForSameAgent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT lease_id, agent_id, expires_at FROM work_item_leases`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "expires_at"}).
			AddRow("cur_lease", "agent_1", now.Add(time.Hour)))
	mock.ExpectExec(`INSERT INTO work_item_leases`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT lease_id, agent_id, correlation_id, version, claimed_at, heartbeat_at, expires_at\s+FROM work_item_leases WHERE workspace_id`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "correlation_id", "version", "claimed_at", "heartbeat_at", "expires_at"}).
			AddRow("cur_lease", "agent_1", "corr_other", 1, now, now, now.Add(time.Hour)))
	mock.ExpectRollback()

	_, err := m.Claim(context.Background(), "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimAlreadyHeldByDifferentAgent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT lease_id, agent_id, expires_at FROM work_item_leases`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "expires_at"}).
			AddRow("cur_lease", "agent_0", now.Add(time.Hour)))
	mock.ExpectExec(`INSERT INTO work_item_leases`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT lease_id, agent_id, correlation_id, version, claimed_at, heartbeat_at, expires_at\s+FROM work_item_leases WHERE workspace_id`).
		WithArgs("ws_1", domain.WorkItemTypeExperiment, "exp_1").
		WillReturnRows(sqlmock.NewRows([]string{"lease_id", "agent_id", "correlation_id", "version", "claimed_at", "heartbeat_at", "expires_at"}).
			AddRow("cur_lease", "agent_0", "corr_0", 1, now, now, now.Add(time.Hour)))
	mock.ExpectRollback()

	_, err := m.Claim(context.Background(), "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatSuccessIncrementsVersion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30, HeartbeatMinIntervalSec: 0, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE work_item_leases\s+SET version = version \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT lease_id, workspace_id, work_item_type, work_item_id, agent_id,\s+correlation_id, version, claimed_at, heartbeat_at, expires_at\s+FROM work_item_leases WHERE lease_id`).
		WithArgs("lease_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"lease_id", "workspace_id", "work_item_type", "work_item_id", "agent_id",
			"correlation_id", "version", "claimed_at", "heartbeat_at", "expires_at",
		}).AddRow("lease_1", "ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1", "corr_1", 2, now, now, now.Add(30*time.Second)))
	mock.ExpectCommit()

	result, err := m.Heartbeat(context.Background(), "lease_1", "agent_1", 1)
	require.NoError(t, err)
	require.Equal(t, 2, result.Version)
	require.True(t, result.ExpiresAt.After(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatRateLimitedWithoutHittingDB(t *testing.T) {
	m, _, _, closeDB := newTestManager(t, Config{DurationSeconds: 30, HeartbeatMinIntervalSec: 60})
	defer closeDB()

	_, err := m.Heartbeat(context.Background(), "lease_1", "agent_1", 1)
	require.Error(t, err)

	svcErr := serviceerrors.AsServiceError(err)
	require.NotNil(t, svcErr)
	require.Equal(t, serviceerrors.ReasonHeartbeatRateLimited, svcErr.Reason)
}

func TestReleaseDeletesOwnedLeaseAndEmitsReleased(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, events, closeDB := newTestManager(t, Config{DurationSeconds: 30, Now: fixedNow(now)})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT workspace_id, work_item_type, work_item_id, agent_id FROM work_item_leases WHERE lease_id`).
		WithArgs("lease_1").
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "work_item_type", "work_item_id", "agent_id"}).
			AddRow("ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_1"))
	mock.ExpectExec(`DELETE FROM work_item_leases WHERE lease_id`).
		WithArgs("lease_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	released, err := m.Release(context.Background(), "lease_1", "agent_1")
	require.NoError(t, err)
	require.True(t, released)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "lease.released", rows[0].EventType)
}

func TestReleaseOfAbsentLeaseIsReplayNotError(t *testing.T) {
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT workspace_id, work_item_type, work_item_id, agent_id FROM work_item_leases WHERE lease_id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	released, err := m.Release(context.Background(), "missing", "agent_1")
	require.NoError(t, err)
	require.False(t, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseHeldByDifferentAgentFails(t *testing.T) {
	m, mock, _, closeDB := newTestManager(t, Config{DurationSeconds: 30})
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT workspace_id, work_item_type, work_item_id, agent_id FROM work_item_leases WHERE lease_id`).
		WithArgs("lease_1").
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "work_item_type", "work_item_id", "agent_id"}).
			AddRow("ws_1", domain.WorkItemTypeExperiment, "exp_1", "agent_0"))
	mock.ExpectRollback()

	_, err := m.Release(context.Background(), "lease_1", "agent_1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
