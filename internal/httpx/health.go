package httpx

import "net/http"

// handleHealth implements GET /health. A failing store probe degrades the
// response to 503 with the failure class, never the raw backend error.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Healthy(r.Context()); err != nil {
		h.logger().Error("health probe failed", "domain", "httpx", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, struct {
			Status string `json:"status"`
			Detail string `json:"detail"`
		}{Status: "degraded", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}
