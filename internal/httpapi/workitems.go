package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
)

type claimWorkItemRequest struct {
	SchemaVersion int                 `json:"schema_version"`
	WorkspaceID   string              `json:"workspace_id"`
	WorkItemType  domain.WorkItemType `json:"work_item_type" validate:"required"`
	WorkItemID    string              `json:"work_item_id" validate:"required"`
}

func (h *handler) claimWorkItem(w http.ResponseWriter, r *http.Request) {
	var req claimWorkItemRequest
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

	result, err := h.app.WorkItems.Claim(r.Context(), wsID, req.WorkItemType, req.WorkItemID, actorID(r), correlationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

type heartbeatWorkItemRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Version       int    `json:"version" validate:"required"`
}

func (h *handler) heartbeatWorkItem(w http.ResponseWriter, r *http.Request) {
	var req heartbeatWorkItemRequest
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

	lease, err := h.app.WorkItems.Heartbeat(r.Context(), chi.URLParam(r, "leaseID"), actorID(r), req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

type releaseWorkItemRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
}

func (h *handler) releaseWorkItem(w http.ResponseWriter, r *http.Request) {
	var req releaseWorkItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}

	released, err := h.app.WorkItems.Release(r.Context(), chi.URLParam(r, "leaseID"), actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}
