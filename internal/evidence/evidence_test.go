package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

type memStore struct {
	rows map[string]domain.EvidenceManifest
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.EvidenceManifest)} }

func (s *memStore) Get(ctx context.Context, workspaceID, evidenceID string) (domain.EvidenceManifest, error) {
	return s.rows[evidenceID], nil
}

func (s *memStore) put(m domain.EvidenceManifest) { s.rows[m.ID] = m }

func TestCreateEmitsCreatedStatus(t *testing.T) {
	events := memory.NewEventStore()
	engine := NewEngine(newMemStore(), events, func() time.Time { return time.Unix(0, 0) })

	m, err := engine.Create(context.Background(), "ws_1", "run_1", "user_1", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceStatusCreated, m.Status)
	assert.Equal(t, "run_1", m.RunID)
}

func TestCreateRequiresRunID(t *testing.T) {
	engine := NewEngine(newMemStore(), memory.NewEventStore(), nil)
	_, err := engine.Create(context.Background(), "ws_1", "", "user_1", nil)
	assert.Error(t, err, "missing run_id should be rejected")
}

func TestRecordScorecardNormalizesWarnToPending(t *testing.T) {
	events := memory.NewEventStore()
	engine := NewEngine(newMemStore(), events, func() time.Time { return time.Unix(0, 0) })

	sc, err := engine.RecordScorecard(context.Background(), "ws_1", "run_1", "", "user_1", "warn", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ScorecardPending, sc.Decision, "warn should normalize to pending")
}

func TestRejectTransitionsStatus(t *testing.T) {
	events := memory.NewEventStore()
	store := newMemStore()
	engine := NewEngine(store, events, func() time.Time { return time.Unix(0, 0) })

	m, err := engine.Create(context.Background(), "ws_1", "run_1", "user_1", nil)
	require.NoError(t, err)
	store.put(m)

	rejected, err := engine.Reject(context.Background(), "ws_1", m.ID, "reviewer_1", "insufficient coverage")
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceStatusRejected, rejected.Status)
}
