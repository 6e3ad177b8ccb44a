package policy

import (
	"context"

	"github.com/PaesslerAG/jsonpath"

	"github.com/agentctl/core/internal/domain"
)

// emitEgressDecision records the terminal egress.allowed or egress.blocked
// event for a completed authorize() call over an egress action, per
// spec.md §6's /v1/egress/requests contract.
func (e *Engine) emitEgressDecision(ctx context.Context, req Request, result Result) error {
	eventType := "egress.allowed"
	if result.Blocked {
		eventType = "egress.blocked"
	}
	_, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   eventType,
		OccurredAt:  e.now(),
		WorkspaceID: req.WorkspaceID,
		Scope:       domain.Scope{RoomID: req.RoomID, RunID: req.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: req.WorkspaceID},
		Actor:       req.Actor,
		CorrelationID: correlationIDFor(req),
		Data: map[string]any{
			"action_type": req.Action.ActionType, "egress_domain": req.RequiredEgressDomain,
			"decision": string(result.Decision), "reason_code": result.ReasonCode,
		},
	})
	return err
}

func (e *Engine) emitDryRun(ctx context.Context, req Request, decision Decision, reasonCode string) error {
	_, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "policy.dry_run." + string(decision),
		OccurredAt:  e.now(),
		WorkspaceID: req.WorkspaceID,
		Scope:       domain.Scope{RoomID: req.RoomID, RunID: req.RunID, StepID: req.StepID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: req.WorkspaceID},
		Actor:       req.Actor,
		CorrelationID: correlationIDFor(req),
		Data: map[string]any{
			"action_type": req.Action.ActionType, "reason_code": reasonCode,
		},
	})
	return err
}

func (e *Engine) emitQuotaExceeded(ctx context.Context, req Request) error {
	_, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "quota.exceeded",
		OccurredAt:  e.now(),
		WorkspaceID: req.WorkspaceID,
		Scope:       domain.Scope{RoomID: req.RoomID, RunID: req.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: req.WorkspaceID},
		Actor:       req.Actor,
		CorrelationID: correlationIDFor(req),
		Data: map[string]any{
			"action_type": req.Action.ActionType,
			"egress_domain": req.RequiredEgressDomain,
			"used":  req.EgressQuota.Used,
			"limit": req.EgressQuota.Limit,
		},
	})
	return err
}

// emitPurposeHintCheck evaluates whether the resource's purpose tags and
// the caller's requested purpose tags are disjoint, extracting both sets
// from req.Context via jsonpath so the check composes with whatever
// shape the caller's context bag actually has rather than a fixed
// struct. Per spec §4.5, purpose_hint_mismatch and the justified|
// unjustified pair only fire when both tag sets are present AND
// disjoint; if either set is empty there's nothing to compare, so the
// hint check emits nothing.
func (e *Engine) emitPurposeHintCheck(ctx context.Context, req Request) error {
	resourceTags := extractTagSet(req.Context, "$.resource_purpose_tags")
	requestTags := extractTagSet(req.Context, "$.request_purpose_tags")
	if len(resourceTags) == 0 || len(requestTags) == 0 {
		return nil
	}

	if !setsDisjoint(resourceTags, requestTags) {
		return nil
	}

	if _, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   "data.access.purpose_hint_mismatch",
		OccurredAt:  e.now(),
		WorkspaceID: req.WorkspaceID,
		Scope:       domain.Scope{RoomID: req.RoomID, RunID: req.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: req.WorkspaceID},
		Actor:       req.Actor,
		CorrelationID: correlationIDFor(req),
		Data: map[string]any{
			"resource_purpose_tags": setKeys(resourceTags),
			"request_purpose_tags":  setKeys(requestTags),
		},
	}); err != nil {
		return err
	}

	// Within the mismatch branch, an explicit caller-supplied
	// justification (req.Context["justification"]) downgrades the event
	// to data.access.justified; absent that, the access is unjustified.
	justifiedEvent := "data.access.unjustified"
	if justification, _ := req.Context["justification"].(string); justification != "" {
		justifiedEvent = "data.access.justified"
	}
	_, err := e.events.AppendToStream(ctx, domain.NewEventInput{
		EventType:   justifiedEvent,
		OccurredAt:  e.now(),
		WorkspaceID: req.WorkspaceID,
		Scope:       domain.Scope{RoomID: req.RoomID, RunID: req.RunID},
		Stream:      domain.Stream{Type: domain.StreamTypeWorkspace, ID: req.WorkspaceID},
		Actor:       req.Actor,
		CorrelationID: correlationIDFor(req),
		Data:        map[string]any{"action_type": req.Action.ActionType},
	})
	return err
}

// extractTagSet reads a string-array field out of the caller-supplied
// context bag by jsonpath, tolerating a missing path the same as an
// empty set: the context bag's shape isn't guaranteed, so "key absent"
// and "key present but empty" both just mean no tags were asserted.
func extractTagSet(doc map[string]any, path string) map[string]bool {
	raw, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil
	}
	items, _ := raw.([]any)
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			set[s] = true
		}
	}
	return set
}

// correlationIDFor threads policy events on the request's run id, or on
// the workspace id for a request not bound to a run.
func correlationIDFor(req Request) string {
	if req.RunID != "" {
		return req.RunID
	}
	return req.WorkspaceID
}

func setsDisjoint(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return false
		}
	}
	return true
}

func setKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
