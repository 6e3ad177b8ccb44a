package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
)

func testInput(idempotencyKey string) domain.NewEventInput {
	return domain.NewEventInput{
		EventType:     "run.created",
		OccurredAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		WorkspaceID:   "ws_1",
		Stream:        domain.Stream{Type: domain.StreamTypeRoom, ID: "room_1"},
		Actor:         domain.Actor{Type: domain.ActorTypeUser, ID: "user_1"},
		CorrelationID: "corr_1",
		IdempotencyKey: idempotencyKey,
		Data:          map[string]any{"k": "v"},
	}
}

func TestAppendToStreamAssignsMonotonicStreamPosition(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	first, err := s.AppendToStream(ctx, testInput(""))
	require.NoError(t, err)
	require.EqualValues(t, 1, first.StreamPosition)

	second, err := s.AppendToStream(ctx, testInput(""))
	require.NoError(t, err)
	require.EqualValues(t, 2, second.StreamPosition)

	other := testInput("")
	other.Stream = domain.Stream{Type: domain.StreamTypeRoom, ID: "room_2"}
	third, err := s.AppendToStream(ctx, other)
	require.NoError(t, err)
	require.EqualValues(t, 1, third.StreamPosition, "a distinct stream starts its own position sequence")
}

func TestAppendToStreamIsIdempotentOnDuplicateKey(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	in := testInput("idem-1")
	first, err := s.AppendToStream(ctx, in)
	require.NoError(t, err)

	second, err := s.AppendToStream(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.EventID, second.EventID, "duplicate idempotency key returns the original winner, not a new event")
	require.Equal(t, first.OccurredAt, second.OccurredAt)
	require.Equal(t, first.StreamPosition, second.StreamPosition)

	// A different idempotency key under the same workspace still appends.
	third, err := s.AppendToStream(ctx, testInput("idem-2"))
	require.NoError(t, err)
	require.NotEqual(t, first.EventID, third.EventID)
	require.EqualValues(t, 2, third.StreamPosition)
}

func TestAppendToStreamIdempotencyIsScopedPerWorkspace(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	in1 := testInput("shared-key")
	in1.WorkspaceID = "ws_1"
	first, err := s.AppendToStream(ctx, in1)
	require.NoError(t, err)

	in2 := testInput("shared-key")
	in2.WorkspaceID = "ws_2"
	second, err := s.AppendToStream(ctx, in2)
	require.NoError(t, err)

	require.NotEqual(t, first.EventID, second.EventID, "same idempotency key in a different workspace is a distinct event")
}

func TestAppendToStreamRejectsMissingRequiredFields(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	in := testInput("")
	in.CorrelationID = ""
	_, err := s.AppendToStream(ctx, in)
	require.Error(t, err)
}

func TestListByStreamOrdersAndFiltersByPosition(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	stream := domain.Stream{Type: domain.StreamTypeRoom, ID: "room_1"}
	var ids []string
	for i := 0; i < 3; i++ {
		in := testInput("")
		in.Stream = stream
		env, err := s.AppendToStream(ctx, in)
		require.NoError(t, err)
		ids = append(ids, env.EventID)
	}

	rows, err := s.ListByStream(ctx, stream, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, ids[1], rows[0].EventID)
	require.Equal(t, ids[2], rows[1].EventID)
}

func TestListSinceFiltersByWorkspaceTimeAndType(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	in1 := testInput("")
	in1.EventType = "run.created"
	in1.OccurredAt = base
	_, err := s.AppendToStream(ctx, in1)
	require.NoError(t, err)

	in2 := testInput("")
	in2.EventType = "run.started"
	in2.OccurredAt = base.Add(time.Minute)
	env2, err := s.AppendToStream(ctx, in2)
	require.NoError(t, err)

	in3 := testInput("")
	in3.WorkspaceID = "ws_other"
	in3.OccurredAt = base.Add(2 * time.Minute)
	_, err = s.AppendToStream(ctx, in3)
	require.NoError(t, err)

	rows, err := s.ListSince(ctx, "ws_1", base, []string{"run.started"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, env2.EventID, rows[0].EventID)
}

func TestGetReturnsNotFoundForUnknownEvent(t *testing.T) {
	s := NewEventStore()
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
}
