package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
	"github.com/agentctl/core/internal/experiment"
)

type createExperimentRequest struct {
	SchemaVersion   int             `json:"schema_version"`
	WorkspaceID     string          `json:"workspace_id"`
	RoomID          string          `json:"room_id"`
	Title           string          `json:"title" validate:"required"`
	Hypothesis      string          `json:"hypothesis" validate:"required"`
	SuccessCriteria string          `json:"success_criteria"`
	StopConditions  string          `json:"stop_conditions"`
	BudgetCapUnits  float64         `json:"budget_cap_units"`
	RiskTier        domain.RiskTier `json:"risk_tier" validate:"required"`
}

func (h *handler) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
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

	exp, err := h.app.Experiments.Create(r.Context(), experiment.CreateInput{
		WorkspaceID: wsID, RoomID: req.RoomID, Title: req.Title, Hypothesis: req.Hypothesis,
		SuccessCriteria: req.SuccessCriteria, StopConditions: req.StopConditions,
		BudgetCapUnits: req.BudgetCapUnits, RiskTier: req.RiskTier,
		ActorID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

type updateExperimentRequest struct {
	SchemaVersion   int              `json:"schema_version"`
	WorkspaceID     string           `json:"workspace_id"`
	Title           *string          `json:"title"`
	Hypothesis      *string          `json:"hypothesis"`
	SuccessCriteria *string          `json:"success_criteria"`
	StopConditions  *string          `json:"stop_conditions"`
	BudgetCapUnits  *float64         `json:"budget_cap_units"`
	RiskTier        *domain.RiskTier `json:"risk_tier"`
}

func (h *handler) updateExperiment(w http.ResponseWriter, r *http.Request) {
	var req updateExperimentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	exp, err := h.app.Experiments.Update(r.Context(), wsID, chi.URLParam(r, "experimentID"), actorID(r), experiment.UpdateInput{
		Title: req.Title, Hypothesis: req.Hypothesis, SuccessCriteria: req.SuccessCriteria,
		StopConditions: req.StopConditions, BudgetCapUnits: req.BudgetCapUnits, RiskTier: req.RiskTier,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type closeExperimentRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Force         bool   `json:"force"`
	Reason        string `json:"reason"`
}

func (h *handler) closeExperiment(w http.ResponseWriter, r *http.Request) {
	var req closeExperimentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	wsID, err := workspaceAndSchema(r, req.WorkspaceID, req.SchemaVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	exp, err := h.app.Experiments.Close(r.Context(), wsID, chi.URLParam(r, "experimentID"), actorID(r), req.Force, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
