package httpapi

import "net/http"

// systemHealth serves GET /v1/system/health: the rolled-up database,
// projector-watermark, dead-letter, and host report (see internal/health).
func (h *handler) systemHealth(w http.ResponseWriter, r *http.Request) {
	report := h.app.Health.Check(r.Context())
	status := http.StatusOK
	if report.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
