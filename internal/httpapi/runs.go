package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/run"
)

type createRunRequest struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	RoomID        string         `json:"room_id" validate:"required"`
	ThreadID      string         `json:"thread_id"`
	ExperimentID  string         `json:"experiment_id"`
	Title         string         `json:"title" validate:"required"`
	Goal          string         `json:"goal" validate:"required"`
	Input         map[string]any `json:"input"`
	Tags          []string       `json:"tags"`
}

func (h *handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
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

	rn, err := h.app.Runs.Create(r.Context(), run.CreateInput{
		WorkspaceID: wsID, RoomID: req.RoomID, ThreadID: req.ThreadID, ExperimentID: req.ExperimentID,
		Title: req.Title, Goal: req.Goal, Input: req.Input, Tags: req.Tags,
		ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rn)
}

type startRunRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
}

// startRun claims the run's execution lease, transitioning it to
// running. The lease manager, not this package, owns run.started.
func (h *handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.app.RunLeases.Claim(r.Context(), chi.URLParam(r, "runID"), actorID(r), correlationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type claimRunRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	RunID         string `json:"run_id" validate:"required"`
}

// claimRun mirrors startRun's lease claim but takes the run id in the
// body rather than the path, for callers that discover a run id out of
// band from a queue rather than a prior create-run response.
func (h *handler) claimRun(w http.ResponseWriter, r *http.Request) {
	var req claimRunRequest
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

	result, err := h.app.RunLeases.Claim(r.Context(), req.RunID, actorID(r), correlationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type completeRunRequest struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	Output        map[string]any `json:"output"`
}

func (h *handler) completeRun(w http.ResponseWriter, r *http.Request) {
	var req completeRunRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	rn, err := h.app.Runs.Complete(r.Context(), run.CompleteInput{
		WorkspaceID: wsID, RunID: chi.URLParam(r, "runID"), Output: req.Output,
		ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

type failRunRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Error         string `json:"error" validate:"required"`
}

func (h *handler) failRun(w http.ResponseWriter, r *http.Request) {
	var req failRunRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	rn, err := h.app.Runs.Fail(r.Context(), run.FailInput{
		WorkspaceID: wsID, RunID: chi.URLParam(r, "runID"), Error: req.Error,
		ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

type addRunStepRequest struct {
	SchemaVersion int            `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id"`
	Name          string         `json:"name" validate:"required"`
	Status        string         `json:"status"`
	Data          map[string]any `json:"data"`
}

func (h *handler) addRunStep(w http.ResponseWriter, r *http.Request) {
	var req addRunStepRequest
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

	step, err := h.app.Runs.AddStep(r.Context(), run.StepInput{
		WorkspaceID: wsID, RunID: chi.URLParam(r, "runID"), Name: req.Name, Status: req.Status, Data: req.Data,
		ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (h *handler) listRunAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.app.ListRunAttempts(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type runLeaseRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	ClaimToken    string `json:"claim_token" validate:"required"`
	Reason        string `json:"reason"`
}

func (h *handler) heartbeatRunLease(w http.ResponseWriter, r *http.Request) {
	var req runLeaseRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}

	if err := h.app.RunLeases.Heartbeat(r.Context(), chi.URLParam(r, "runID"), req.ClaimToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *handler) releaseRunLease(w http.ResponseWriter, r *http.Request) {
	var req runLeaseRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion); err != nil {
		writeError(w, err)
		return
	}

	if err := h.app.RunLeases.Release(r.Context(), chi.URLParam(r, "runID"), req.ClaimToken, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
