package lease

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

func newTestRunManager(t *testing.T, durationSeconds int, now func() time.Time) (*RunManager, sqlmock.Sqlmock, *memory.EventStore, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	events := memory.NewEventStore()
	return NewRunManager(db, events, durationSeconds, now), mock, events, func() { db.Close() }
}

func TestRunClaimQueuedRunStartsAttemptOne(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, events, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectQuery(`SELECT status, lease_expires_at, claim_token FROM runs WHERE id = \$1 FOR UPDATE`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "lease_expires_at", "claim_token"}).
			AddRow(domain.RunStatusQueued, nil, nil))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(attempt_no\), 0\) \+ 1 FROM run_attempts WHERE run_id = \$1`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_no"}).AddRow(1))
	mock.ExpectExec(`UPDATE runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO run_attempts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT workspace_id, room_id FROM runs WHERE id = \$1`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "room_id"}).AddRow("ws_1", "room_1"))
	mock.ExpectCommit()

	result, err := m.Claim(context.Background(), "run_1", "engine_1", "corr_1")
	require.NoError(t, err)
	require.Equal(t, 1, result.AttemptNo)
	require.NotEmpty(t, result.ClaimToken)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a fresh queued-run claim emits run.started only, no preemption")
	require.Equal(t, "run.started", rows[0].EventType)
}

func TestRunClaimReclaimsExpiredLeaseAndEmitsPreempted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, events, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectQuery(`SELECT status, lease_expires_at, claim_token FROM runs WHERE id = \$1 FOR UPDATE`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "lease_expires_at", "claim_token"}).
			AddRow(domain.RunStatusRunning, now.Add(-time.Minute), "old_token"))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(attempt_no\), 0\) \+ 1 FROM run_attempts WHERE run_id = \$1`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_no"}).AddRow(2))
	mock.ExpectExec(`UPDATE runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO run_attempts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT workspace_id, room_id FROM runs WHERE id = \$1`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "room_id"}).AddRow("ws_1", "room_1"))
	mock.ExpectCommit()

	result, err := m.Claim(context.Background(), "run_1", "engine_2", "corr_2")
	require.NoError(t, err)
	require.Equal(t, 2, result.AttemptNo)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "lease.preempted", rows[0].EventType)
	require.Equal(t, "old_token", rows[0].Data["old_lease_id"])
	require.Equal(t, "run.started", rows[1].EventType)
}

func TestRunClaimRejectsRunningRunWithLiveLease(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectQuery(`SELECT status, lease_expires_at, claim_token FROM runs WHERE id = \$1 FOR UPDATE`).
		WithArgs("run_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "lease_expires_at", "claim_token"}).
			AddRow(domain.RunStatusRunning, now.Add(time.Minute), "live_token"))
	mock.ExpectRollback()

	_, err := m.Claim(context.Background(), "run_1", "engine_2", "corr_2")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunClaimFailsWhenAdvisoryLockNotAcquired(t *testing.T) {
	m, mock, _, closeDB := newTestRunManager(t, 30, nil)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
	mock.ExpectRollback()

	_, err := m.Claim(context.Background(), "run_1", "engine_1", "corr_1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHeartbeatExtendsLiveLease(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs\s+SET lease_expires_at`).
		WithArgs(now.Add(30*time.Second), "run_1", "tok_1", domain.RunStatusRunning, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.Heartbeat(context.Background(), "run_1", "tok_1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHeartbeatFailsWhenLeaseNotOwned(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs\s+SET lease_expires_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := m.Heartbeat(context.Background(), "run_1", "stale_tok")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunReleaseRequeuesAndRecordsReleaseReason(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, mock, _, closeDB := newTestRunManager(t, 30, fixedNow(now))
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs\s+SET status = \$1, claim_token`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE run_attempts SET released_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.Release(context.Background(), "run_1", "tok_1", "engine_restart")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
