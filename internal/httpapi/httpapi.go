// Package httpapi exposes the control plane's command surface over HTTP:
// one handler per resource, a chi router wiring them to their paths, and
// the decode/encode/error helpers every handler shares. Handlers apply
// internal/contract's schema-version, workspace-header, and validation
// checks before constructing an engine input, then translate the
// engine's result or *errors.ServiceError into a JSON response.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentctl/core/internal/app"
	"github.com/agentctl/core/internal/contract"
	serviceerrors "github.com/agentctl/core/internal/errors"
	"github.com/agentctl/core/internal/metrics"
)

// handler bundles every engine a route dispatches into.
type handler struct {
	app *app.Application
	ids contract.IdempotencyKeyBuilder
	now func() time.Time
}

// NewRouter builds the full HTTP command surface described by the
// contract layer, mounted at the root.
func NewRouter(application *app.Application) http.Handler {
	h := &handler{app: application, ids: contract.NewIdempotencyKeyBuilder(), now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/v1/system/health", h.systemHealth)

	r.Route("/v1/agents", func(r chi.Router) {
		r.Post("/", h.registerAgent)
		r.Post("/{agentID}/quarantine", h.quarantineAgent)
		r.Post("/{agentID}/skills/import", h.importSkill)
	})

	r.Route("/v1/engines", func(r chi.Router) {
		r.Post("/", h.registerEngine)
		r.Post("/{engineID}/deactivate", h.deactivateEngine)
	})

	r.Route("/v1/experiments", func(r chi.Router) {
		r.Post("/", h.createExperiment)
		r.Patch("/{experimentID}", h.updateExperiment)
		r.Post("/{experimentID}/close", h.closeExperiment)
	})

	r.Route("/v1/incidents", func(r chi.Router) {
		r.Post("/", h.openIncident)
		r.Post("/{incidentID}/rca", h.recordIncidentRCA)
		r.Post("/{incidentID}/learning", h.logIncidentLearning)
		r.Post("/{incidentID}/close", h.closeIncident)
	})

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", h.createRun)
		r.Post("/claim", h.claimRun)
		r.Post("/{runID}/start", h.startRun)
		r.Post("/{runID}/complete", h.completeRun)
		r.Post("/{runID}/fail", h.failRun)
		r.Post("/{runID}/steps", h.addRunStep)
		r.Get("/{runID}/attempts", h.listRunAttempts)
		r.Post("/{runID}/lease/heartbeat", h.heartbeatRunLease)
		r.Post("/{runID}/lease/release", h.releaseRunLease)
	})

	r.Route("/v1/approvals", func(r chi.Router) {
		r.Post("/", h.requestApproval)
		r.Post("/{approvalID}/decide", h.decideApproval)
	})

	r.Route("/v1/autonomy/recommendations", func(r chi.Router) {
		r.Post("/{recommendationID}/approve", h.approveAutonomyRecommendation)
	})

	r.Route("/v1/work-items", func(r chi.Router) {
		r.Post("/claim", h.claimWorkItem)
		r.Post("/{leaseID}/heartbeat", h.heartbeatWorkItem)
		r.Post("/{leaseID}/release", h.releaseWorkItem)
	})

	r.Route("/v1/evidence", func(r chi.Router) {
		r.Post("/", h.createEvidence)
		r.Post("/{evidenceID}/review", h.reviewEvidence)
		r.Post("/{evidenceID}/reject", h.rejectEvidence)
		r.Post("/{evidenceID}/scorecard", h.recordScorecard)
	})

	r.Get("/v1/pipeline/projection", h.pipelineProjection)
	r.Get("/v1/pipeline/stream", h.pipelineStream)

	r.Route("/v1/egress", func(r chi.Router) {
		r.Post("/requests", h.requestEgress)
	})

	r.Route("/v1/data/access", func(r chi.Router) {
		r.Post("/requests", h.requestDataAccess)
	})

	return r
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	se := serviceerrors.AsServiceError(err)
	if se == nil {
		se = serviceerrors.Internal(err)
	}
	writeJSON(w, se.HTTPStatus, se)
}

// workspaceAndSchema runs the two checks every command body is subject
// to: the x-workspace-id header contract and the schema_version gate.
// bodyWorkspaceID and schemaVersion come from the decoded request body.
func workspaceAndSchema(r *http.Request, bodyWorkspaceID string, schemaVersion int) (string, error) {
	if err := contract.AssertSupportedSchemaVersion(schemaVersion); err != nil {
		return "", err
	}
	return contract.RequireWorkspaceHeader(r.Header.Get(contract.WorkspaceHeader), bodyWorkspaceID)
}

func actorID(r *http.Request) string {
	if id := r.Header.Get("x-principal-id"); id != "" {
		return id
	}
	return "anonymous"
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("x-correlation-id"); id != "" {
		return id
	}
	return chiRequestID(r)
}

func chiRequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
