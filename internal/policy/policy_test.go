package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/storage/memory"
)

func newTestEngine() (*Engine, *memory.EventStore) {
	events := memory.NewEventStore()
	return NewEngine(events, func() time.Time { return time.Unix(0, 0) }), events
}

func TestAuthorizeDeniesOnKillSwitch(t *testing.T) {
	engine, _ := newTestEngine()
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("artifact.create"), WorkspaceID: "ws_1",
		KillSwitchActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, result.Decision)
	assert.Equal(t, "kill_switch_active", result.ReasonCode)
}

func TestAuthorizeDeniesOnQuarantine(t *testing.T) {
	engine, _ := newTestEngine()
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("artifact.create"), WorkspaceID: "ws_1",
		AgentQuarantined: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, result.Decision)
	assert.Equal(t, "agent_quarantined", result.ReasonCode)
}

func TestAuthorizeDeniesWhenTokenMissingScope(t *testing.T) {
	engine, _ := newTestEngine()
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("tool.call.sandbox"), WorkspaceID: "ws_1",
		RequiredTool: "browser", Token: nil,
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, result.Decision)
	assert.Equal(t, "no_scope", result.ReasonCode, "should deny without a covering token")
}

func TestAuthorizeRequiresApprovalForHighStakes(t *testing.T) {
	engine, _ := newTestEngine()
	token := &domain.CapabilityToken{Scope: domain.TokenScope{ActionTypes: []string{"external.write"}}}
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("external.write"), WorkspaceID: "ws_1", Token: token,
	})
	require.NoError(t, err)
	assert.Equal(t, RequireApproval, result.Decision)
	assert.Equal(t, "high_stakes", result.ReasonCode)
}

func TestEgressEmitsAllowedEventOnAllow(t *testing.T) {
	engine, events := newTestEngine()
	token := &domain.CapabilityToken{Scope: domain.TokenScope{
		ActionTypes: []string{"tool.call.sandbox"}, EgressDomains: []string{"example.com"},
	}}
	result, err := engine.Egress(context.Background(), Request{
		Action: LookupAction("tool.call.sandbox"), WorkspaceID: "ws_1",
		Actor: domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		RequiredEgressDomain: "example.com", Token: token,
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, result.Decision)

	rows, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 10)
	require.NoError(t, err)
	assert.True(t, hasEventType(rows, "egress.allowed"), "expected an egress.allowed event, got %+v", rows)
}

func TestEgressEmitsBlockedEventOnDeny(t *testing.T) {
	engine, events := newTestEngine()
	result, err := engine.Egress(context.Background(), Request{
		Action: LookupAction("tool.call.sandbox"), WorkspaceID: "ws_1",
		Actor:                domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		RequiredEgressDomain: "example.com", KillSwitchActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, result.Decision)
	assert.True(t, result.Blocked)

	rows, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 10)
	require.NoError(t, err)
	assert.True(t, hasEventType(rows, "egress.blocked"), "expected an egress.blocked event, got %+v", rows)
}

func TestAuthorizeDryRunNeverBlocks(t *testing.T) {
	engine, _ := newTestEngine()
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("artifact.create"), WorkspaceID: "ws_1",
		Actor:            domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		KillSwitchActive: true, EnforcementMode: ModeDryRun,
	})
	require.NoError(t, err)
	assert.False(t, result.Blocked, "dry_run mode should never block")
}

func TestAuthorizeEmitsPurposeMismatchOnDisjointTags(t *testing.T) {
	engine, events := newTestEngine()
	result, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("data.read"), WorkspaceID: "ws_1", RunID: "run_1",
		Actor: domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		Context: map[string]any{
			"resource_purpose_tags": []any{"billing"},
			"request_purpose_tags":  []any{"support"},
		},
	})
	require.NoError(t, err)
	_ = result

	rows, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 10)
	require.NoError(t, err)
	assert.True(t, hasEventType(rows, "data.access.purpose_hint_mismatch"))
	assert.True(t, hasEventType(rows, "data.access.unjustified"))
	assert.False(t, hasEventType(rows, "data.access.justified"))
}

func TestAuthorizeJustifiesMismatchWhenCallerSuppliesJustification(t *testing.T) {
	engine, events := newTestEngine()
	_, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("data.read"), WorkspaceID: "ws_1", RunID: "run_1",
		Actor: domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		Context: map[string]any{
			"resource_purpose_tags": []any{"billing"},
			"request_purpose_tags":  []any{"support"},
			"justification":         "incident IR-42 requires cross-team access",
		},
	})
	require.NoError(t, err)

	rows, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 10)
	require.NoError(t, err)
	assert.True(t, hasEventType(rows, "data.access.purpose_hint_mismatch"))
	assert.True(t, hasEventType(rows, "data.access.justified"))
	assert.False(t, hasEventType(rows, "data.access.unjustified"))
}

func TestAuthorizeSkipsPurposeCheckWhenTagsOverlap(t *testing.T) {
	engine, events := newTestEngine()
	_, err := engine.Authorize(context.Background(), Request{
		Action: LookupAction("data.read"), WorkspaceID: "ws_1", RunID: "run_1",
		Actor: domain.Actor{Type: domain.ActorTypeAgent, ID: "agent_1"},
		Context: map[string]any{
			"resource_purpose_tags": []any{"billing"},
			"request_purpose_tags":  []any{"billing"},
		},
	})
	require.NoError(t, err)

	rows, err := events.ListByStream(context.Background(), domain.Stream{Type: domain.StreamTypeWorkspace, ID: "ws_1"}, 0, 10)
	require.NoError(t, err)
	assert.False(t, hasEventType(rows, "data.access.purpose_hint_mismatch"), "overlapping purpose tags need no mismatch event")
	assert.False(t, hasEventType(rows, "data.access.justified"), "the justified/unjustified pair only fires inside the mismatch branch")
	assert.False(t, hasEventType(rows, "data.access.unjustified"))
}

func hasEventType(rows []domain.Envelope, eventType string) bool {
	for _, row := range rows {
		if row.EventType == eventType {
			return true
		}
	}
	return false
}
