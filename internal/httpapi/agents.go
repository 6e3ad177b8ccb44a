package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentctl/core/internal/agent"
	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
)

type registerAgentRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	DisplayName   string `json:"display_name" validate:"required"`
}

func (h *handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
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

	ag, err := h.app.Agents.Register(r.Context(), agent.RegisterInput{
		WorkspaceID: wsID, DisplayName: req.DisplayName,
		RegisteredByID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

type quarantineAgentRequest struct {
	SchemaVersion int    `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	Reason        string `json:"reason" validate:"required"`
}

func (h *handler) quarantineAgent(w http.ResponseWriter, r *http.Request) {
	var req quarantineAgentRequest
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

	result, err := h.app.Agents.Quarantine(r.Context(), agent.QuarantineInput{
		WorkspaceID: wsID, AgentID: chi.URLParam(r, "agentID"), Reason: req.Reason,
		QuarantinedByID: actorID(r), CorrelationID: correlationID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type importSkillRequest struct {
	SchemaVersion int                   `json:"schema_version"`
	WorkspaceID   string                `json:"workspace_id"`
	SkillName     string                `json:"skill_name" validate:"required"`
	Version       string                `json:"version" validate:"required"`
	Hash          string                `json:"hash" validate:"required"`
	Signature     string                `json:"signature"`
	Manifest      *domain.SkillManifest `json:"manifest"`
}

func (h *handler) importSkill(w http.ResponseWriter, r *http.Request) {
	var req importSkillRequest
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

	pkg, err := h.app.Skills.Import(r.Context(), wsID, chi.URLParam(r, "agentID"), domain.SkillPackage{
		SkillName: req.SkillName, Version: req.Version, Hash: req.Hash,
		Signature: req.Signature, Manifest: req.Manifest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pkg)
}
