package experiment

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
	rows map[string]domain.Experiment
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.Experiment)} }

func (s *memStore) Get(ctx context.Context, workspaceID, experimentID string) (domain.Experiment, error) {
	return s.rows[experimentID], nil
}

func (s *memStore) put(e domain.Experiment) { s.rows[e.ID] = e }

type fixedCounter struct{ n int }

func (f fixedCounter) CountActive(ctx context.Context, workspaceID, experimentID string) (int, error) {
	return f.n, nil
}

func TestCreateRequiresTitleHypothesisAndRiskTier(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, fixedCounter{0}, events, func() time.Time { return time.Unix(0, 0) })

	_, err := engine.Create(context.Background(), CreateInput{WorkspaceID: "ws_1"})
	assert.Error(t, err, "missing required fields should be rejected")

	exp, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", Title: "faster retries", Hypothesis: "backoff cuts failures",
		BudgetCapUnits: 10, RiskTier: domain.RiskTierLow, ActorID: "user_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentStatusOpen, exp.Status)
}

func TestCloseWithoutForceBlockedByActiveRuns(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, fixedCounter{2}, events, func() time.Time { return time.Unix(0, 0) })

	exp, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", Title: "t", Hypothesis: "h", RiskTier: domain.RiskTierLow, ActorID: "user_1",
	})
	require.NoError(t, err)
	store.put(exp)

	_, err = engine.Close(context.Background(), "ws_1", exp.ID, "user_1", false, "")
	require.Error(t, err, "close should be blocked by active runs")
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonExperimentHasActiveRuns, se.Reason)
}

func TestCloseWithForceStopsInsteadOfClosing(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, fixedCounter{1}, events, func() time.Time { return time.Unix(0, 0) })

	exp, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", Title: "t", Hypothesis: "h", RiskTier: domain.RiskTierMedium, ActorID: "user_1",
	})
	require.NoError(t, err)
	store.put(exp)

	closed, err := engine.Close(context.Background(), "ws_1", exp.ID, "user_1", true, "budget overrun")
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentStatusStopped, closed.Status)
}

func TestCloseWithNoActiveRunsClosesCleanly(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, fixedCounter{0}, events, func() time.Time { return time.Unix(0, 0) })

	exp, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", Title: "t", Hypothesis: "h", RiskTier: domain.RiskTierHigh, ActorID: "user_1",
	})
	require.NoError(t, err)
	store.put(exp)

	closed, err := engine.Close(context.Background(), "ws_1", exp.ID, "user_1", false, "concluded")
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentStatusClosed, closed.Status)
}

func TestUpdateRejectedOnceNotOpen(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, fixedCounter{0}, events, func() time.Time { return time.Unix(0, 0) })

	exp, err := engine.Create(context.Background(), CreateInput{
		WorkspaceID: "ws_1", Title: "t", Hypothesis: "h", RiskTier: domain.RiskTierLow, ActorID: "user_1",
	})
	require.NoError(t, err)
	store.put(exp)
	closed, err := engine.Close(context.Background(), "ws_1", exp.ID, "user_1", false, "done")
	require.NoError(t, err)
	store.put(closed)

	newTitle := "renamed"
	_, err = engine.Update(context.Background(), "ws_1", exp.ID, "user_1", UpdateInput{Title: &newTitle})
	require.Error(t, err, "update on a closed experiment should fail")
	se := serviceerrors.AsServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, serviceerrors.ReasonExperimentNotOpen, se.Reason)
}
