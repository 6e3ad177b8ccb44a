package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/approval"
)

type approveAutonomyRecommendationRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
}

// approveAutonomyRecommendation issues a capability token and transitions
// the recommendation to approved. Re-approving an already-approved
// recommendation returns the existing token id with already_approved:true
// per spec.md §4.6/S6.
func (h *handler) approveAutonomyRecommendation(w http.ResponseWriter, r *http.Request) {
	var req approveAutonomyRecommendationRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}

	result, err := approval.ApproveRecommendation(r.Context(), h.app.DB, h.app.Events, h.now, chi.URLParam(r, "recommendationID"), actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
