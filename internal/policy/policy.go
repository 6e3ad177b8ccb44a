// Package policy implements the synchronous authorize() decision
// function gating egress, tool use, and data access by capability scope,
// zone, quota, and approval requirements.
package policy

import (
	"context"
	"time"

	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/eventstore"
)

// Decision is the outcome of an authorize() call.
type Decision string

const (
	Allow           Decision = "allow"
	Deny            Decision = "deny"
	RequireApproval Decision = "require_approval"
)

// Zone enumerates the escalating trust zones an action can require.
type Zone string

const (
	ZoneSandbox    Zone = "sandbox"
	ZoneSupervised Zone = "supervised"
	ZoneHighStakes Zone = "high_stakes"
)

var zoneRank = map[Zone]int{ZoneSandbox: 0, ZoneSupervised: 1, ZoneHighStakes: 2}

// Exceeds reports whether required is a stricter zone than current.
func (required Zone) Exceeds(current Zone) bool {
	return zoneRank[required] > zoneRank[current]
}

// CostImpact and RecoveryDifficulty classify an action registry row.
type CostImpact string
type RecoveryDifficulty string

const (
	CostImpactLow    CostImpact = "low"
	CostImpactMedium CostImpact = "medium"
	CostImpactHigh   CostImpact = "high"

	RecoveryEasy     RecoveryDifficulty = "easy"
	RecoveryModerate RecoveryDifficulty = "moderate"
	RecoveryHard     RecoveryDifficulty = "hard"
)

// ActionRegistryRow is the static policy metadata for one action type.
type ActionRegistryRow struct {
	ActionType         string
	Reversible         bool
	ZoneRequired       Zone
	RequiresPreApproval bool
	PostReviewRequired bool
	CostImpact         CostImpact
	RecoveryDifficulty RecoveryDifficulty
}

// EnforcementMode controls whether a Deny/RequireApproval decision is
// actually enforced or only observed.
type EnforcementMode string

const (
	ModeEnforce EnforcementMode = "enforce"
	ModeDryRun  EnforcementMode = "dry_run"
)

// Request is the full input to authorize().
type Request struct {
	Action            ActionRegistryRow
	Actor             domain.Actor
	WorkspaceID       string
	RoomID            string
	RunID             string
	StepID            string
	PrincipalID       string
	Token             *domain.CapabilityToken // active capability-token union for the principal; nil if none
	RequiredTool      string
	RequiredEgressDomain string
	CurrentZone       Zone
	AgentQuarantined  bool
	KillSwitchActive  bool
	EnforcementMode   EnforcementMode

	// EgressQuota: when non-nil, quota.used/quota.limit are compared; a
	// used >= limit denies with quota_exceeded.
	EgressQuota *Quota

	// Context is the caller-supplied JSON context bag for data-access
	// actions, e.g. {"resource_purpose_tags": [...], "request_purpose_tags": [...]}.
	// Its shape isn't fixed to this struct; emitPurposeHintCheck reads the
	// tag sets out of it by path.
	Context map[string]any
}

// Quota tracks egress usage against a workspace-configured limit.
type Quota struct {
	Used  int
	Limit int
}

// Exceeded reports whether usage has reached or passed the limit.
func (q Quota) Exceeded() bool {
	return q.Limit > 0 && q.Used >= q.Limit
}

// Result is the outcome of authorize().
type Result struct {
	Decision        Decision
	ReasonCode      string
	Reason          string
	EnforcementMode EnforcementMode
	Blocked         bool
}

// Engine evaluates authorize() requests and emits the policy/quota/data-access
// side-effect events the spec calls for.
type Engine struct {
	events eventstore.Store
	now    func() time.Time
}

// NewEngine constructs a policy engine.
func NewEngine(events eventstore.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{events: events, now: now}
}

// Authorize evaluates req against the fixed decision ordering: kill
// switch, quarantine, scope, pre-approval/high-stakes, quota, allow.
func (e *Engine) Authorize(ctx context.Context, req Request) (Result, error) {
	decision, reasonCode, reason := evaluate(req, e.now())

	blocked := decision != Allow
	mode := req.EnforcementMode
	if mode == "" {
		mode = ModeEnforce
	}
	if mode == ModeDryRun {
		blocked = false
		if err := e.emitDryRun(ctx, req, decision, reasonCode); err != nil {
			return Result{}, err
		}
	}

	if decision == Deny && reasonCode == "quota_exceeded" {
		if err := e.emitQuotaExceeded(ctx, req); err != nil {
			return Result{}, err
		}
	}

	if len(req.Context) > 0 {
		if err := e.emitPurposeHintCheck(ctx, req); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Decision: decision, ReasonCode: reasonCode, Reason: reason,
		EnforcementMode: mode, Blocked: blocked,
	}, nil
}

// Egress evaluates an egress authorize() request and additionally emits
// the terminal egress.allowed or egress.blocked event, per spec.md §6's
// POST /v1/egress/requests contract. DataAccess needs no equivalent
// wrapper: its purpose-hint and justified/unjustified events are already
// emitted from inside Authorize.
func (e *Engine) Egress(ctx context.Context, req Request) (Result, error) {
	result, err := e.Authorize(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if err := e.emitEgressDecision(ctx, req, result); err != nil {
		return Result{}, err
	}
	return result, nil
}

func evaluate(req Request, now time.Time) (Decision, string, string) {
	if req.KillSwitchActive {
		return Deny, "kill_switch_active", "the workspace kill switch is active"
	}
	if req.AgentQuarantined {
		return Deny, "agent_quarantined", "the acting agent is quarantined"
	}

	if !tokenCoversRequest(req, now) {
		return Deny, "no_scope", "capability token does not cover the requested scope"
	}

	if req.Action.RequiresPreApproval || req.Action.ZoneRequired == ZoneHighStakes {
		if req.Action.ZoneRequired == ZoneHighStakes {
			return RequireApproval, "high_stakes", "action zone requires human approval"
		}
		return RequireApproval, "pre_required", "action requires pre-approval"
	}

	if req.Action.ZoneRequired.Exceeds(req.CurrentZone) {
		return RequireApproval, "pre_required", "action zone exceeds the caller's current zone"
	}

	if req.EgressQuota != nil && req.EgressQuota.Exceeded() {
		return Deny, "quota_exceeded", "egress quota exceeded"
	}

	return Allow, "", ""
}

func tokenCoversRequest(req Request, now time.Time) bool {
	if req.Token == nil || !req.Token.Valid(now) {
		return false
	}
	if req.RoomID != "" && !req.Token.CoversRoom(req.RoomID) {
		return false
	}
	if !req.Token.CoversActionType(req.Action.ActionType) {
		return false
	}
	if req.RequiredTool != "" && !req.Token.CoversTool(req.RequiredTool) {
		return false
	}
	if req.RequiredEgressDomain != "" && !req.Token.CoversEgressDomain(req.RequiredEgressDomain) {
		return false
	}
	return true
}
