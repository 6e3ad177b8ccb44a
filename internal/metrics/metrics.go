// Package metrics exposes the control plane's Prometheus collectors: HTTP
// traffic, event-store append throughput, projector catch-up lag, lease
// claim/preemption counts, policy decisions by outcome, and the
// dead-letter backlog depth.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-specific Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "controlplane", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controlplane", Subsystem: "http", Name: "request_duration_seconds",
		Help: "Duration of HTTP requests.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	eventAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "eventstore", Name: "appends_total",
		Help: "Total number of event appends, partitioned by event type and whether the append was a fresh write or an idempotent replay.",
	}, []string{"event_type", "outcome"})

	projectorLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "controlplane", Subsystem: "projector", Name: "catchup_lag_seconds",
		Help: "Seconds between now and a projector's watermark, per workspace.",
	}, []string{"workspace_id", "projector"})

	deadLetterDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "controlplane", Subsystem: "projector", Name: "dead_letter_depth",
		Help: "Current count of events parked in the dead-letter table.",
	})

	leaseEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "lease", Name: "events_total",
		Help: "Lease lifecycle events, partitioned by lease kind (work_item or run) and outcome (claimed, preempted, released, rejected).",
	}, []string{"kind", "outcome"})

	policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controlplane", Subsystem: "policy", Name: "decisions_total",
		Help: "Policy engine decisions, partitioned by outcome and enforcement mode.",
	}, []string{"decision", "enforcement_mode"})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		eventAppends, projectorLag, deadLetterDepth,
		leaseEvents, policyDecisions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus
// metrics, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request-count, in-flight,
// and latency collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordAppend records an event-store append outcome.
func RecordAppend(eventType string, replay bool) {
	outcome := "written"
	if replay {
		outcome = "idempotent_replay"
	}
	eventAppends.WithLabelValues(eventType, outcome).Inc()
}

// SetProjectorLag records how far a projector's watermark trails now, for
// one workspace.
func SetProjectorLag(workspaceID, projectorName string, lag time.Duration) {
	projectorLag.WithLabelValues(workspaceID, projectorName).Set(lag.Seconds())
}

// SetDeadLetterDepth records the current dead-letter backlog size.
func SetDeadLetterDepth(depth int) {
	deadLetterDepth.Set(float64(depth))
}

// RecordLeaseEvent records a lease lifecycle transition.
func RecordLeaseEvent(kind, outcome string) {
	leaseEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordPolicyDecision records a policy engine decision.
func RecordPolicyDecision(decision, enforcementMode string) {
	policyDecisions.WithLabelValues(decision, enforcementMode).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so high-cardinality IDs don't
// explode the requests_total/request_duration_seconds label space.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i > 0 && looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(segment string) bool {
	if segment == "" {
		return false
	}
	switch segment {
	case "claim", "start", "complete", "fail", "decide", "quarantine", "deactivate",
		"steps", "attempts", "heartbeat", "release", "rca", "learning", "close",
		"import", "projection", "health":
		return false
	}
	return strings.ContainsAny(segment, "-_") || len(segment) > 12
}
