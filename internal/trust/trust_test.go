package trust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

func TestComputeMatchesSpecExample(t *testing.T) {
	// spec §8 S6: success=0.9, evalQ=0.2, feedback=0.8, violations=1, tenure=45
	score := Compute(domain.TrustComponents{
		SuccessRate7d:      0.9,
		EvalQualityTrend:   0.2,
		UserFeedbackScore:  0.8,
		PolicyViolations7d: 1,
		TimeInServiceDays:  45,
	})
	assert.InDelta(t, 0.81, score, 1e-9)
}

func TestComputeIsIdempotent(t *testing.T) {
	c := domain.TrustComponents{SuccessRate7d: 0.5, EvalQualityTrend: -0.3, UserFeedbackScore: 0.6, PolicyViolations7d: 2, TimeInServiceDays: 10}
	first := Compute(c)
	second := Compute(c)
	assert.Equal(t, first, second, "expected bit-identical recomputation")
}

func TestComputeClampsOutOfRangeInputs(t *testing.T) {
	score := Compute(domain.TrustComponents{
		SuccessRate7d:      2.0,
		EvalQualityTrend:   5.0,
		UserFeedbackScore:  -1.0,
		PolicyViolations7d: -5,
		TimeInServiceDays:  -10,
	})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

type fakeSources struct{}

func (fakeSources) SuccessRate7d(ctx context.Context, workspaceID, agentID string) (float64, error) {
	return 0.9, nil
}
func (fakeSources) PolicyViolations7d(ctx context.Context, workspaceID, agentID string) (int, error) {
	return 1, nil
}
func (fakeSources) UserFeedbackScore(ctx context.Context, workspaceID, agentID string) (float64, error) {
	return 0.8, nil
}
func (fakeSources) TimeInServiceDays(ctx context.Context, workspaceID, agentID string, now time.Time) (int, error) {
	return 45, nil
}

type memStore struct {
	rows map[string]domain.AgentTrust
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.AgentTrust)} }

func (s *memStore) Get(ctx context.Context, workspaceID, agentID string) (domain.AgentTrust, error) {
	return s.rows[workspaceID+"/"+agentID], nil
}

func (s *memStore) Upsert(ctx context.Context, row domain.AgentTrust) error {
	s.rows[row.WorkspaceID+"/"+row.AgentID] = row
	return nil
}

func TestEngineRecomputeEmitsIncreaseOnlyWhenScoreMoves(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := NewEngine(fakeSources{}, store, events, func() time.Time { return fixedNow })

	evalTrend := 0.2
	overrides := Overrides{EvalQualityTrend: &evalTrend}

	_, err := engine.Recompute(context.Background(), "ws_1", "agent_1", overrides)
	require.NoError(t, err)

	envs, err := events.ListSince(context.Background(), "ws_1", fixedNow.Add(-time.Hour), nil, 10)
	require.NoError(t, err)
	assert.True(t, hasEventType(envs, "agent.trust.increased"), "expected agent.trust.increased on first computation from zero score")

	// Recomputing with identical inputs should be silent (no new event).
	before := len(envs)
	_, err = engine.Recompute(context.Background(), "ws_1", "agent_1", overrides)
	require.NoError(t, err)
	after, err := events.ListSince(context.Background(), "ws_1", fixedNow.Add(-time.Hour), nil, 10)
	require.NoError(t, err)
	assert.Len(t, after, before, "expected no new trust event on identical recomputation")
}

func hasEventType(envs []domain.Envelope, eventType string) bool {
	for _, e := range envs {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}
