package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentctl/core/internal/contract"
	"github.com/agentctl/core/internal/domain"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/pipeline"
)

// pipelineProjection serves GET /v1/pipeline/projection: the legacy flat
// object shape by default, or the v2 "meta + stages" envelope when
// ?format=envelope is given, per spec.md §4.10.
func (h *handler) pipelineProjection(w http.ResponseWriter, r *http.Request) {
	wsID, err := contract.RequireWorkspaceHeader(r.Header.Get(contract.WorkspaceHeader), "")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	after, err := parsePipelineCursor(q)
	if err != nil {
		writeError(w, err)
		return
	}

	if q.Get("format") == "envelope" {
		env, err := h.app.Pipeline.AsEnvelope(r.Context(), wsID, after, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
		return
	}

	rows, err := h.app.Pipeline.Flat(r.Context(), wsID, after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func parsePipelineCursor(q url.Values) (*pipeline.Cursor, error) {
	raw := q.Get("cursor_updated_at")
	if raw == "" {
		return nil, nil
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, serviceerrors.New(serviceerrors.ReasonMissingRequiredField, "cursor_updated_at must be RFC3339")
	}
	return &pipeline.Cursor{
		UpdatedAt:  updatedAt,
		EntityType: domain.EntityKind(q.Get("cursor_entity_type")),
		EntityID:   q.Get("cursor_entity_id"),
	}, nil
}
