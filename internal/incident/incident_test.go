package incident

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
	rows map[string]domain.Incident
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.Incident)} }

func (s *memStore) Get(ctx context.Context, workspaceID, incidentID string) (domain.Incident, error) {
	return s.rows[incidentID], nil
}

func (s *memStore) put(i domain.Incident) { s.rows[i.ID] = i }

type memRuns struct {
	rows map[string]domain.Run
}

func (r *memRuns) Get(ctx context.Context, runID string) (domain.Run, error) {
	return r.rows[runID], nil
}

func TestOpenInheritsRoomThreadCorrelationFromRun(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	runs := &memRuns{rows: map[string]domain.Run{
		"run_1": {ID: "run_1", RoomID: "room_1", ThreadID: "thread_1", CorrelationID: "corr_1"},
	}}
	engine := NewEngine(store, runs, events, func() time.Time { return time.Unix(0, 0) })

	inc, err := engine.Open(context.Background(), OpenInput{WorkspaceID: "ws_1", RunID: "run_1", Severity: "sev2", ActorID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, "room_1", inc.RoomID)
	assert.Equal(t, "thread_1", inc.ThreadID)
	assert.Equal(t, "corr_1", inc.CorrelationID)
	store.put(inc)
}

func TestCloseBlockedUntilRCAAndLearningPresent(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, nil, events, func() time.Time { return time.Unix(0, 0) })

	inc, err := engine.Open(context.Background(), OpenInput{WorkspaceID: "ws_1", Severity: "sev1", ActorID: "user_1"})
	require.NoError(t, err)
	store.put(inc)

	_, err = engine.Close(context.Background(), "ws_1", inc.ID, "user_1")
	require.Error(t, err, "close should be blocked with no rca")
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonIncidentCloseBlockedMissingRCA, se.Reason)

	inc, err = engine.RecordRCA(context.Background(), "ws_1", inc.ID, "user_1", map[string]any{"cause": "bad deploy"})
	require.NoError(t, err)
	store.put(inc)

	_, err = engine.Close(context.Background(), "ws_1", inc.ID, "user_1")
	require.Error(t, err, "close should be blocked with no learning")
	se = serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonIncidentCloseBlockedMissingLearning, se.Reason)

	inc, err = engine.LogLearning(context.Background(), "ws_1", inc.ID, "user_1", "add a canary stage")
	require.NoError(t, err)
	store.put(inc)

	closed, err := engine.Close(context.Background(), "ws_1", inc.ID, "user_1")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusClosed, closed.Status)
}

func TestClosedIncidentRejectsFurtherMutation(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, nil, events, func() time.Time { return time.Unix(0, 0) })

	inc, err := engine.Open(context.Background(), OpenInput{WorkspaceID: "ws_1", Severity: "sev3", ActorID: "user_1"})
	require.NoError(t, err)
	store.put(inc)
	inc, err = engine.RecordRCA(context.Background(), "ws_1", inc.ID, "user_1", map[string]any{"cause": "x"})
	require.NoError(t, err)
	store.put(inc)
	inc, err = engine.LogLearning(context.Background(), "ws_1", inc.ID, "user_1", "note")
	require.NoError(t, err)
	store.put(inc)
	inc, err = engine.Close(context.Background(), "ws_1", inc.ID, "user_1")
	require.NoError(t, err)
	store.put(inc)

	_, err = engine.LogLearning(context.Background(), "ws_1", inc.ID, "user_1", "too late")
	require.Error(t, err, "closed incident should reject new learnings")
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonIncidentClosed, se.Reason)
}
