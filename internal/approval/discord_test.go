package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

type staticReactionResolver map[string]Decision

func (r staticReactionResolver) Resolve(emoji string) (Decision, bool) {
	d, ok := r[emoji]
	return d, ok
}

func TestResolveApprovalFromReactionFollowsReferencedEvent(t *testing.T) {
	events := memory.NewEventStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	env, err := events.AppendToStream(context.Background(), domain.NewEventInput{
		EventType:     "approval.requested",
		OccurredAt:    now,
		WorkspaceID:   "ws_1",
		Stream:        domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"},
		Actor:         domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		CorrelationID: "corr_1",
		Data:          map[string]any{"approval_id": "appr_1"},
	})
	require.NoError(t, err)

	resolver := staticReactionResolver{"✅": DecisionApprove}
	ev := ReactionEvent{
		MessageID: "msg_1", Emoji: "✅", ReactingUserID: "user_1",
		ReferencedApprovalRequestedEventID: env.EventID,
	}

	approvalID, decision, ok, err := ResolveApprovalFromReaction(context.Background(), events, resolver, ev)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "appr_1", approvalID)
	require.Equal(t, DecisionApprove, decision)
}

func TestResolveApprovalFromReactionUnmappedEmoji(t *testing.T) {
	events := memory.NewEventStore()
	resolver := staticReactionResolver{}

	_, _, ok, err := ResolveApprovalFromReaction(context.Background(), events, resolver, ReactionEvent{Emoji: "\U0001F937"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveApprovalFromReactionReferencesWrongEventType(t *testing.T) {
	events := memory.NewEventStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	env, err := events.AppendToStream(context.Background(), domain.NewEventInput{
		EventType:     "approval.decided",
		OccurredAt:    now,
		WorkspaceID:   "ws_1",
		Stream:        domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"},
		Actor:         domain.Actor{Type: domain.ActorTypeUser, ID: "user_1"},
		CorrelationID: "corr_1",
		Data:          map[string]any{"approval_id": "appr_1"},
	})
	require.NoError(t, err)

	resolver := staticReactionResolver{"✅": DecisionApprove}
	ev := ReactionEvent{Emoji: "✅", ReferencedApprovalRequestedEventID: env.EventID}

	_, _, ok, err := ResolveApprovalFromReaction(context.Background(), events, resolver, ev)
	require.NoError(t, err)
	require.False(t, ok, "a reaction referencing a non-approval.requested event resolves to nothing")
}
