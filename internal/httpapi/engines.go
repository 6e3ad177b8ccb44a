package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/engine"
)

type registerEngineRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Name          string `json:"name" validate:"required"`
}

func (h *handler) registerEngine(w http.ResponseWriter, r *http.Request) {
	var req registerEngineRequest
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

	eng, err := h.app.Engines.Register(r.Context(), engine.RegisterInput{
		WorkspaceID: wsID, Name: req.Name, RegisteredByID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eng)
}

type deactivateEngineRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
}

func (h *handler) deactivateEngine(w http.ResponseWriter, r *http.Request) {
	var req deactivateEngineRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.app.Engines.Deactivate(r.Context(), engine.DeactivateInput{
		WorkspaceID: wsID, EngineID: chi.URLParam(r, "engineID"),
		DeactivatedByID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
