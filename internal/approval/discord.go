package approval

import (
	"context"

	"github.com/agentctl/core/internal/eventstore"
)

// ReactionEvent is the minimal shape a Discord-ingestion collaborator
// parses out of an emoji reaction on a reply message. Only the
// event-parsing contract is owned here; the ingestion glue itself is an
// external collaborator.
type ReactionEvent struct {
	MessageID                          string
	Emoji                               string
	ReactingUserID                      string
	ReferencedApprovalRequestedEventID string
}

// Decision enumerates the decision an emoji reaction maps to.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ReactionDecisionResolver maps a reaction's emoji to a decision. The
// concrete mapping (which emoji means what) is workspace configuration
// owned by the Discord collaborator, not this package.
type ReactionDecisionResolver interface {
	Resolve(emoji string) (Decision, bool)
}

// ResolveApprovalFromReaction maps ev's emoji to a decision and resolves
// the approval it targets by loading the approval.requested event
// ev.ReferencedApprovalRequestedEventID points at and reading its
// approval_id payload field, per spec §4.6. ok is false if the emoji
// doesn't map to a decision or the referenced event can't be loaded or
// isn't an approval.requested event.
func ResolveApprovalFromReaction(ctx context.Context, events eventstore.Store, resolver ReactionDecisionResolver, ev ReactionEvent) (approvalID string, decision Decision, ok bool, err error) {
	decision, ok = resolver.Resolve(ev.Emoji)
	if !ok {
		return "", "", false, nil
	}

	env, err := events.Get(ctx, ev.ReferencedApprovalRequestedEventID)
	if err != nil {
		return "", "", false, err
	}
	if env.EventType != "approval.requested" {
		return "", "", false, nil
	}
	approvalID, _ = env.Data["approval_id"].(string)
	if approvalID == "" {
		return "", "", false, nil
	}
	return approvalID, decision, true, nil
}
