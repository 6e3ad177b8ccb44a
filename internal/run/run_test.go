package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/storage/memory"
)

type memStore struct {
	rows map[string]domain.Run
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.Run)} }

func (s *memStore) Get(ctx context.Context, runID string) (domain.Run, error) {
	return s.rows[runID], nil
}

func (s *memStore) put(r domain.Run) { s.rows[r.ID] = r }

func TestCreateRequiresRoomTitleGoal(t *testing.T) {
	events := memory.NewEventStore()
	engine := NewEngine(newMemStore(), events, func() time.Time { return time.Unix(0, 0) })

	_, err := engine.Create(context.Background(), CreateInput{WorkspaceID: "ws_1", Title: "t", Goal: "g"})
	require.Error(t, err, "missing room_id should be rejected")
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonMissingRequiredField, se.Reason)
}

func TestCreateEmitsQueuedRun(t *testing.T) {
	events := memory.NewEventStore()
	engine := NewEngine(newMemStore(), events, func() time.Time { return time.Unix(0, 0) })

	r, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", RoomID: "room_1", Title: "t", Goal: "g", ActorID: "user_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, r.Status)

	envs, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "run.created", envs[0].EventType)
}

func TestCompleteAndFailAreNoOpOnTerminalRuns(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, events, func() time.Time { return time.Unix(0, 0) })

	r, err := engine.Create(context.Background(), CreateInput{WorkspaceID: "ws_1", RoomID: "room_1", Title: "t", Goal: "g", ActorID: "user_1"})
	require.NoError(t, err)
	store.put(r)

	r, err = engine.Complete(context.Background(), CompleteInput{WorkspaceID: "ws_1", RunID: r.ID, Output: map[string]any{"ok": true}, ActorID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, r.Status)
	store.put(r)

	again, err := engine.Fail(context.Background(), FailInput{WorkspaceID: "ws_1", RunID: r.ID, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, again.Status, "a terminal run should stay succeeded")

	envs, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, envs, 2, "no run.failed event should be emitted for a terminal run")
}

func TestAddStepRequiresName(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, events, func() time.Time { return time.Unix(0, 0) })

	r, err := engine.Create(context.Background(), CreateInput{WorkspaceID: "ws_1", RoomID: "room_1", Title: "t", Goal: "g", ActorID: "user_1"})
	require.NoError(t, err)
	store.put(r)

	_, err = engine.AddStep(context.Background(), StepInput{WorkspaceID: "ws_1", RunID: r.ID})
	assert.Error(t, err, "missing name should be rejected")

	step, err := engine.AddStep(context.Background(), StepInput{WorkspaceID: "ws_1", RunID: r.ID, Name: "plan", ActorID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, "pending", step.Status, "expected default pending status")
}
