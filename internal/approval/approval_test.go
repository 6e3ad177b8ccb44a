package approval

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRequestEmitsApprovalRequestedAndReturnsPending(t *testing.T) {
	events := memory.NewEventStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := NewEngine(nil, events, fixedNow(now))

	approval, err := eng.Request(context.Background(), RequestInput{
		WorkspaceID:   "ws_1",
		ActionCode:    "external.write",
		Scope:         domain.ApprovalScopeRun,
		RequestedByID: "agent_1",
		CorrelationID: "corr_1",
		RunID:         "run_1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalStatusPending, approval.Status)
	require.NotEmpty(t, approval.ID)
	require.NotEmpty(t, approval.LastEventID)

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "approval.requested", rows[0].EventType)
	require.Equal(t, approval.ID, rows[0].Data["approval_id"])
}

func newApprovalRow(mock sqlmock.Sqlmock, approvalID string, status domain.ApprovalStatus, decidedBy *string, decidedAt *time.Time) {
	rows := sqlmock.NewRows([]string{
		"id", "workspace_id", "action_code", "scope", "requested_by_id", "status",
		"decided_by_id", "decided_at", "last_event_id", "created_at",
	})
	var db, da any
	if decidedBy != nil {
		db = *decidedBy
	}
	if decidedAt != nil {
		da = *decidedAt
	}
	rows.AddRow(approvalID, "ws_1", "external.write", domain.ApprovalScopeRun, "agent_1", status,
		db, da, "evt_0", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT id, workspace_id, action_code, scope, requested_by_id, status,\s+decided_by_id, decided_at, last_event_id, created_at\s+FROM approvals WHERE id = \$1`).
		WithArgs(approvalID).
		WillReturnRows(rows)
}

func TestDecideTransitionsPendingApprovalAndEmitsEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events := memory.NewEventStore()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	eng := NewEngine(db, events, fixedNow(now))

	mock.ExpectBegin()
	newApprovalRow(mock, "appr_1", domain.ApprovalStatusPending, nil, nil)
	mock.ExpectCommit()

	result, err := eng.Decide(context.Background(), "appr_1", "user_1", domain.ApprovalStatusApproved, "corr_1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalStatusApproved, result.Status)
	require.Equal(t, "user_1", result.DecidedByID)
	require.NotNil(t, result.DecidedAt)
	require.NoError(t, mock.ExpectationsWereMet())

	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-time.Minute), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "approval.decided", rows[0].EventType)
}

func TestDecideOnTerminalApprovalAppendsButProjectionIsUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events := memory.NewEventStore()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	eng := NewEngine(db, events, fixedNow(now))

	decidedAt := now.Add(-time.Hour)
	decidedBy := "user_1"

	mock.ExpectBegin()
	newApprovalRow(mock, "appr_1", domain.ApprovalStatusApproved, &decidedBy, &decidedAt)
	mock.ExpectCommit()

	result, err := eng.Decide(context.Background(), "appr_1", "user_2", domain.ApprovalStatusDenied, "corr_2", nil)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalStatusApproved, result.Status, "a terminal approval's status cannot be changed by a later decide call")
	require.Equal(t, "user_1", result.DecidedByID, "the original decider is preserved, not the replaying caller")
	require.NoError(t, mock.ExpectationsWereMet())

	// S3/§8: a decide call against a terminal approval still appends
	// approval.decided to the log (count = 2 across request+both decides);
	// it's the projector's WHERE guard, not this command, that keeps the
	// projection on the first decision.
	rows, err := events.ListSince(context.Background(), "ws_1", now.Add(-2*time.Hour), nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a replayed decide still appends approval.decided to the log")
	require.Equal(t, "approval.decided", rows[0].EventType)
	require.Equal(t, domain.ApprovalStatusDenied, rows[0].Data["status"])
}
