package httpapi

import (
	"net/http"

	"github.com/agentctl/core/internal/approval"
	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/policy"
)

type egressRequestBody struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	AgentID       string `json:"agent_id" validate:"required"`
	PrincipalID   string `json:"principal_id"`
	ActionType    string `json:"action_type" validate:"required"`
	RoomID        string `json:"room_id"`
	RunID         string `json:"run_id"`
	Tool          string `json:"tool"`
	EgressDomain  string `json:"egress_domain" validate:"required"`
	Zone          string `json:"zone"`
	QuotaUsed     int    `json:"quota_used"`
	QuotaLimit    int    `json:"quota_limit"`
}

// requestEgress implements POST /v1/egress/requests: authorize() runs
// against the agent's current capability-token union, creates an
// approval when the decision requires one, and always emits
// egress.allowed or egress.blocked.
func (h *handler) requestEgress(w http.ResponseWriter, r *http.Request) {
	var req egressRequestBody
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := contract.ValidateRequest(req); err != nil {
		writeError(w, err)
		return
	}

	policyReq, err := h.buildPolicyRequest(r, wsID, req.AgentID, req.PrincipalID, req.ActionType, req.RoomID, req.RunID, req.Zone)
	if err != nil {
		writeError(w, err)
		return
	}
	policyReq.RequiredEgressDomain = req.EgressDomain
	policyReq.RequiredTool = req.Tool
	if req.QuotaLimit > 0 {
		policyReq.EgressQuota = &policy.Quota{Used: req.QuotaUsed, Limit: req.QuotaLimit}
	}

	result, err := h.app.Policy.Egress(r.Context(), policyReq)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"decision": result.Decision, "reason_code": result.ReasonCode,
		"enforcement_mode": result.EnforcementMode, "blocked": result.Blocked,
	}
	if result.Decision == policy.RequireApproval {
		ap, err := h.app.Approvals.Request(r.Context(), approval.RequestInput{
			WorkspaceID: wsID, ActionCode: req.ActionType, Scope: domain.ApprovalScopeOnce,
			RequestedByID: req.AgentID, CorrelationID: correlationID(r), RunID: req.RunID, RoomID: req.RoomID,
			ScopeSnapshot: map[string]any{"egress_domain": req.EgressDomain, "tool": req.Tool},
		})
		if err != nil {
			writeError(w, err)
			return
		}
		resp["approval_id"] = ap.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type dataAccessRequestBody struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	AgentID       string         `json:"agent_id" validate:"required"`
	PrincipalID   string         `json:"principal_id"`
	ActionType    string         `json:"action_type" validate:"required"`
	RoomID        string         `json:"room_id"`
	RunID         string         `json:"run_id"`
	Zone          string         `json:"zone"`
	// Context carries resource_purpose_tags/request_purpose_tags (and an
	// optional justification string) for the purpose-hint mismatch check;
	// see policy.Request.Context.
	Context map[string]any `json:"context"`
}

// requestDataAccess implements POST /v1/data/access/requests: the
// purpose-tag mismatch check runs inside Authorize itself (emitting
// data.access.purpose_hint_mismatch and data.access.justified|unjustified),
// then the standard authorize() flow decides allow/deny/require-approval.
func (h *handler) requestDataAccess(w http.ResponseWriter, r *http.Request) {
	var req dataAccessRequestBody
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := contract.ValidateRequest(req); err != nil {
		writeError(w, err)
		return
	}

	policyReq, err := h.buildPolicyRequest(r, wsID, req.AgentID, req.PrincipalID, req.ActionType, req.RoomID, req.RunID, req.Zone)
	if err != nil {
		writeError(w, err)
		return
	}
	policyReq.Context = req.Context

	result, err := h.app.Policy.Authorize(r.Context(), policyReq)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"decision": result.Decision, "reason_code": result.ReasonCode,
		"enforcement_mode": result.EnforcementMode, "blocked": result.Blocked,
	}
	if result.Decision == policy.RequireApproval {
		ap, err := h.app.Approvals.Request(r.Context(), approval.RequestInput{
			WorkspaceID: wsID, ActionCode: req.ActionType, Scope: domain.ApprovalScopeOnce,
			RequestedByID: req.AgentID, CorrelationID: correlationID(r), RunID: req.RunID, RoomID: req.RoomID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		resp["approval_id"] = ap.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildPolicyRequest resolves the agent's quarantine state and active
// capability-token union, then assembles the fields every authorize()
// caller needs in common. principalID falls back to agentID: no separate
// Principal store exists yet to resolve a distinct principal identity,
// matching the simplification internal/approval's autonomy-approval path
// already makes.
func (h *handler) buildPolicyRequest(r *http.Request, workspaceID, agentID, principalID, actionType, roomID, runID, zone string) (policy.Request, error) {
	if principalID == "" {
		principalID = agentID
	}
	quarantined, err := h.app.AgentQuarantined(r.Context(), workspaceID, agentID)
	if err != nil {
		return policy.Request{}, err
	}
	token, err := h.app.ActiveCapabilityTokenUnion(r.Context(), workspaceID, principalID)
	if err != nil {
		return policy.Request{}, err
	}

	currentZone := policy.Zone(zone)
	if currentZone == "" {
		currentZone = policy.ZoneSandbox
	}

	mode := policy.ModeEnforce
	if h.app.Cfg != nil && h.app.Cfg.Policy.EnforcementMode == "dry_run" {
		mode = policy.ModeDryRun
	}
	killSwitch := h.app.Cfg != nil && h.app.Cfg.Policy.KillSwitch

	return policy.Request{
		Action:           policy.LookupAction(actionType),
		Actor:            domain.Actor{Type: domain.ActorTypeAgent, ID: agentID, PrincipalID: principalID},
		WorkspaceID:      workspaceID,
		RoomID:           roomID,
		RunID:            runID,
		PrincipalID:      principalID,
		Token:            token,
		CurrentZone:      currentZone,
		AgentQuarantined: quarantined,
		KillSwitchActive: killSwitch,
		EnforcementMode:  mode,
	}, nil
}
