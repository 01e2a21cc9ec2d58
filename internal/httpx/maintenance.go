package httpx

import (
	"fmt"
	"net/http"
)

// handleMaintenance implements POST /maintenance/run: one synchronous
// reaper sweep. If the background loop is already mid-sweep the request
// reports success=false rather than queueing a second run.
func (h *Handler) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Sweeper.RunOnce(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	resp := struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		Deleted    int    `json:"deleted"`
		FreedBytes int64  `json:"freedBytes"`
		Orphans    int    `json:"orphans"`
	}{
		Success:    !stats.Skipped,
		Deleted:    stats.Deleted,
		FreedBytes: stats.FreedBytes,
		Orphans:    stats.Orphans,
	}
	if stats.Skipped {
		resp.Message = "cleanup already in progress"
	} else {
		resp.Message = fmt.Sprintf("cleanup removed %d expired files and %d orphans", stats.Deleted, stats.Orphans)
	}
	writeJSON(w, http.StatusOK, resp)
}
