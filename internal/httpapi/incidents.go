package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/incident"
)

type openIncidentRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	RunID         string `json:"run_id"`
	RoomID        string `json:"room_id"`
	ThreadID      string `json:"thread_id"`
	Severity      string `json:"severity" validate:"required"`
}

func (h *handler) openIncident(w http.ResponseWriter, r *http.Request) {
	var req openIncidentRequest
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

	inc, err := h.app.Incidents.Open(r.Context(), incident.OpenInput{
		WorkspaceID: wsID, RunID: req.RunID, RoomID: req.RoomID, ThreadID: req.ThreadID,
		Severity: req.Severity, ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

type incidentPayloadRequest struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	Payload       map[string]any `json:"payload"`
	Note          string         `json:"note"`
}

func (h *handler) recordIncidentRCA(w http.ResponseWriter, r *http.Request) {
	var req incidentPayloadRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	inc, err := h.app.Incidents.RecordRCA(r.Context(), wsID, chi.URLParam(r, "incidentID"), actorID(r), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *handler) logIncidentLearning(w http.ResponseWriter, r *http.Request) {
	var req incidentPayloadRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	inc, err := h.app.Incidents.LogLearning(r.Context(), wsID, chi.URLParam(r, "incidentID"), actorID(r), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type closeIncidentRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
}

func (h *handler) closeIncident(w http.ResponseWriter, r *http.Request) {
	var req closeIncidentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	inc, err := h.app.Incidents.Close(r.Context(), wsID, chi.URLParam(r, "incidentID"), actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
