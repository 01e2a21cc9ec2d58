package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/haukened/stash/internal/domain"
)

// errorBody is the JSON error envelope every failed request returns.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Method     string `json:"method"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// writeError writes the JSON error envelope with the given status code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{
		StatusCode: code,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		Method:     r.Method,
		Message:    msg,
		Error:      http.StatusText(code),
	})
}

// mapServiceError translates domain errors into HTTP responses. Unexpected
// errors are logged with their correlation ID but never echoed to the
// client verbatim.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.logger().With("domain", "httpx", "cid", cid)
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		log.Warn("service error", "code", "invalid_id")
		h.writeError(w, r, http.StatusBadRequest, "invalid file id")
	case errors.Is(err, domain.ErrValidation):
		log.Warn("service error", "code", "validation", "error", err)
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTTLInvalid):
		log.Warn("service error", "code", "ttl_invalid")
		h.writeError(w, r, http.StatusBadRequest, "ttl out of range")
	case errors.Is(err, domain.ErrMimeNotAllowed):
		log.Warn("service error", "code", "mime_not_allowed")
		h.writeError(w, r, http.StatusBadRequest, "file type not allowed")
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "code", "not_found")
		h.writeError(w, r, http.StatusNotFound, "file not found")
	case errors.Is(err, domain.ErrSizeExceeded):
		log.Warn("service error", "code", "size_exceeded")
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Error("service error", "code", "store_unavailable", "error", err)
		h.writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; nothing useful to send.
		log.Info("service error", "code", "cancelled")
		h.writeError(w, r, 499, "request cancelled")
	default:
		log.Error("unhandled service error", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// errorReason classifies err for the upload error counter.
func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSizeExceeded):
		return "size"
	case errors.Is(err, domain.ErrMimeNotAllowed):
		return "mime"
	case errors.Is(err, domain.ErrTTLInvalid):
		return "ttl"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store"
	default:
		return "internal"
	}
}
