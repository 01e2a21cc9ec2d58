package httpx

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleDownload implements GET /download/{id}: the blob streams straight
// from the store to the client, no buffering of whole files.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, rc, err := h.Catalog.OpenStream(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	// Expiring content must never be served from an intermediary cache.
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; all we can do is note the broken transfer.
		cid, _ := GetCorrelationID(r.Context())
		h.logger().Warn("download aborted", "domain", "httpx", "id", rec.ID, "cid", cid, "error", err)
	}
}
