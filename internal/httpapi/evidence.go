package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
)

type createEvidenceRequest struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	RunID         string         `json:"run_id" validate:"required"`
	Payload       map[string]any `json:"payload"`
}

func (h *handler) createEvidence(w http.ResponseWriter, r *http.Request) {
	var req createEvidenceRequest
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

	m, err := h.app.Evidence.Create(r.Context(), wsID, req.RunID, actorID(r), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type evidenceActionRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Reason        string `json:"reason"`
}

func (h *handler) reviewEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceActionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.app.Evidence.MarkUnderReview(r.Context(), wsID, chi.URLParam(r, "evidenceID"), actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) rejectEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceActionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.app.Evidence.Reject(r.Context(), wsID, chi.URLParam(r, "evidenceID"), actorID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type recordScorecardRequest struct {
	SchemaVersion int                      `json:"schema_version"`
	WorkspaceID   string                   `json:"workspace_id"`
	RunID         string                   `json:"run_id"`
	Decision      domain.ScorecardDecision `json:"decision" validate:"required"`
	Payload       map[string]any           `json:"payload"`
}

func (h *handler) recordScorecard(w http.ResponseWriter, r *http.Request) {
	var req recordScorecardRequest
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

	sc, err := h.app.Evidence.RecordScorecard(r.Context(), wsID, req.RunID, chi.URLParam(r, "evidenceID"), actorID(r), req.Decision, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}
