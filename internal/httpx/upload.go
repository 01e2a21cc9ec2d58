package httpx

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/ingest"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to a temp file.
const multipartMemory = 32 << 20

// bodySlack covers multipart framing overhead on top of the file cap.
const bodySlack = 10 << 20

// handleUpload implements POST /files. Multipart bodies may carry several
// `file` parts plus `ttlMins` and `metadata` fields; any other content type
// is treated as a raw body described by x-file-name, x-ttl-mins, and
// x-metadata headers.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.MaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBody+bodySlack)
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		h.uploadMultipart(w, r)
		return
	}
	h.uploadRaw(w, r)
}

func (h *Handler) uploadMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.countUploadError("validation")
		h.writeError(w, r, http.StatusBadRequest, "malformed multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	ttl, err := parseTTLMins(r.FormValue("ttlMins"), h.defaultTTL())
	if err != nil {
		h.countUploadError("ttl")
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	userMeta, err := parseMetadata(r.FormValue("metadata"))
	if err != nil {
		h.countUploadError("validation")
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		h.countUploadError("validation")
		h.writeError(w, r, http.StatusBadRequest, "no file part in request")
		return
	}

	responses := make([]UploadResponse, 0, len(files))
	for _, fh := range files {
		part, err := fh.Open()
		if err != nil {
			h.countUploadError("internal")
			h.writeError(w, r, http.StatusBadRequest, "unreadable file part")
			return
		}
		src := ingest.UploadedFile{
			Name:         fh.Filename,
			DeclaredMime: fh.Header.Get("Content-Type"),
			DeclaredSize: fh.Size,
			Content:      part,
		}
		rec, err := h.Uploads.UploadFile(r.Context(), src, ttl, userMeta)
		part.Close()
		if err != nil {
			h.countUploadError(errorReason(err))
			h.mapServiceError(r.Context(), w, r, err)
			return
		}
		h.countUpload(rec.Size)
		responses = append(responses, h.uploadResponse(rec, h.Clock.Now()))
	}
	if len(responses) == 1 {
		writeJSON(w, http.StatusCreated, responses[0])
		return
	}
	writeJSON(w, http.StatusCreated, responses)
}

func (h *Handler) uploadRaw(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("x-file-name")
	if name == "" {
		h.countUploadError("validation")
		h.writeError(w, r, http.StatusBadRequest, "x-file-name header required")
		return
	}
	ttl, err := parseTTLMins(r.Header.Get("x-ttl-mins"), h.defaultTTL())
	if err != nil {
		h.countUploadError("ttl")
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	userMeta, err := parseMetadata(r.Header.Get("x-metadata"))
	if err != nil {
		h.countUploadError("validation")
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	size := ingest.SizeUnknown
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil && n >= 0 {
			size = n
		}
	}
	src := ingest.UploadedFile{
		Name:         name,
		DeclaredMime: r.Header.Get("Content-Type"),
		DeclaredSize: size,
		Content:      r.Body,
	}
	rec, err := h.Uploads.UploadFile(r.Context(), src, ttl, userMeta)
	if err != nil {
		h.countUploadError(errorReason(err))
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	h.countUpload(rec.Size)
	writeJSON(w, http.StatusCreated, h.uploadResponse(rec, h.Clock.Now()))
}

// urlUploadRequest is the body of POST /files/url.
type urlUploadRequest struct {
	URL      string         `json:"url"`
	TTLMins  *int64         `json:"ttlMins"`
	Metadata map[string]any `json:"metadata"`
}

// handleUploadURL implements POST /files/url: fetch a remote file and push
// it through the same ingest pipeline as a direct upload.
func (h *Handler) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req urlUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.countUploadError("validation")
		h.writeError(w, r, http.StatusBadRequest, "malformed json body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.countUploadError("validation")
		h.writeError(w, r, http.StatusBadRequest, "url is required")
		return
	}
	ttl := h.defaultTTL()
	if req.TTLMins != nil {
		if *req.TTLMins <= 0 {
			h.countUploadError("ttl")
			h.mapServiceError(r.Context(), w, r, domain.ErrTTLInvalid)
			return
		}
		ttl = time.Duration(*req.TTLMins) * time.Minute
	}

	remote, err := h.Fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		h.countUploadError(errorReason(err))
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	defer remote.Close()

	rec, err := h.Uploads.UploadFile(r.Context(), remote.File, ttl, req.Metadata)
	if err != nil {
		h.countUploadError(errorReason(err))
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	h.countUpload(rec.Size)
	writeJSON(w, http.StatusCreated, h.uploadResponse(rec, h.Clock.Now()))
}

// parseTTLMins interprets an optional minutes field; empty means fallback.
func parseTTLMins(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	mins, err := strconv.ParseInt(s, 10, 64)
	if err != nil || mins <= 0 {
		return 0, fmt.Errorf("%w: ttlMins must be a positive integer", domain.ErrTTLInvalid)
	}
	return time.Duration(mins) * time.Minute, nil
}

// parseMetadata decodes the optional metadata JSON object; empty means nil.
func parseMetadata(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a json object", domain.ErrValidation)
	}
	return m, nil
}

func (h *Handler) countUpload(size int64) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.UploadsTotal.Inc()
	h.Metrics.UploadBytesTotal.Add(float64(size))
}

func (h *Handler) countUploadError(reason string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.UploadErrorsTotal.WithLabelValues(reason).Inc()
}
