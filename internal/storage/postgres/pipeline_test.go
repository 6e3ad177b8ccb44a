package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/pipeline"
)

func TestPipelineStorePageScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPipelineStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT workspace_id, entity_type, entity_id, stage, diagnostic, updated_at, last_event_id\s+FROM pipeline_snapshots WHERE workspace_id = \$1`).
		WithArgs("ws_1", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"workspace_id", "entity_type", "entity_id", "stage", "diagnostic", "updated_at", "last_event_id",
		}).AddRow("ws_1", "run", "run_1", "5_promoted", "", now, "evt_1"))

	rows, err := store.Page(context.Background(), "ws_1", nil, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.PipelineSnapshotRow{
		WorkspaceID: "ws_1",
		EntityType:  domain.EntityKindRun,
		EntityID:    "run_1",
		Stage:       domain.StagePromoted,
		UpdatedAt:   now,
		LastEventID: "evt_1",
	}, rows[0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineStorePageWithCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPipelineStore(db)
	after := &pipeline.Cursor{
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EntityType: domain.EntityKindRun,
		EntityID:   "run_0",
	}
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT workspace_id, entity_type, entity_id, stage, diagnostic, updated_at, last_event_id\s+FROM pipeline_snapshots\s+WHERE workspace_id = \$1 AND \(updated_at, entity_type, entity_id\) > \(\$2, \$3, \$4\)`).
		WithArgs("ws_1", after.UpdatedAt, after.EntityType, after.EntityID, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"workspace_id", "entity_type", "entity_id", "stage", "diagnostic", "updated_at", "last_event_id",
		}).AddRow("ws_1", "experiment", "exp_1", "1_inbox", "unmatched_state", now, "evt_2"))

	rows, err := store.Page(context.Background(), "ws_1", after, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "exp_1", rows[0].EntityID)
	require.Equal(t, "unmatched_state", rows[0].Diagnostic)

	require.NoError(t, mock.ExpectationsWereMet())
}
