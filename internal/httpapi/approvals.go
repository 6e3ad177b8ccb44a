package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/approval"
	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
)

type requestApprovalRequest struct {
	SchemaVersion int                   `json:"schema_version"`
	WorkspaceID   string                `json:"workspace_id"`
	ActionCode    string                `json:"action_code" validate:"required"`
	Scope         domain.ApprovalScope  `json:"scope" validate:"required"`
	RunID         string                `json:"run_id"`
	RoomID        string                `json:"room_id"`
	ExperimentID  string                `json:"experiment_id"`
	ScopeSnapshot map[string]any        `json:"scope_snapshot"`
}

func (h *handler) requestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
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

	ap, err := h.app.Approvals.Request(r.Context(), approval.RequestInput{
		WorkspaceID: wsID, ActionCode: req.ActionCode, Scope: req.Scope,
		RequestedByID: actorID(r), CorrelationID: correlationID(r),
		RunID: req.RunID, RoomID: req.RoomID, ExperimentID: req.ExperimentID,
		ScopeSnapshot: req.ScopeSnapshot,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ap)
}

type decideApprovalRequest struct {
	SchemaVersion  int                   `json:"schema_version"`
	WorkspaceID    string                `json:"workspace_id"`
	Status         domain.ApprovalStatus `json:"status" validate:"required"`
	SourceMetadata map[string]any        `json:"source_metadata"`
}

// decideApproval re-deciding a terminal approval is not an error:
// Engine.Decide records the decide call and returns the existing terminal
// state, so this handler answers 200 for a replay as well.
func (h *handler) decideApproval(w http.ResponseWriter, r *http.Request) {
	var req decideApprovalRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}
	if err := contract.ValidateRequest(req); err != nil {
		writeError(w, err)
		return
	}

	ap, err := h.app.Approvals.Decide(r.Context(), chi.URLParam(r, "approvalID"), actorID(r), req.Status, correlationID(r), req.SourceMetadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ap)
}
