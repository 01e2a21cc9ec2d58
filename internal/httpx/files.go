package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/stash/internal/domain"
)

// maxListLimit caps a single listing page.
const maxListLimit = 1000

// defaultListLimit applies when the client does not pick a page size.
const defaultListLimit = 100

// handleInfo implements GET /files/{id}.
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Catalog.GetInfo(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	downloadPath := h.apiPrefix() + "/download/" + rec.ID
	writeJSON(w, http.StatusOK, struct {
		File        FileResponse `json:"file"`
		DownloadURL string       `json:"downloadUrl"`
		DeleteURL   string       `json:"deleteUrl"`
	}{
		File:        h.fileResponse(rec, h.Clock.Now()),
		DownloadURL: h.DownloadBaseURL + downloadPath,
		DeleteURL:   h.DownloadBaseURL + h.apiPrefix() + "/files/" + rec.ID,
	})
}

// handleList implements GET /files with the query filters.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	res, err := h.Catalog.Search(r.Context(), filter)
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	now := h.Clock.Now()
	files := make([]FileResponse, 0, len(res.Records))
	for i := range res.Records {
		files = append(files, h.fileResponse(&res.Records[i], now))
	}
	writeJSON(w, http.StatusOK, struct {
		Files      []FileResponse `json:"files"`
		Total      int            `json:"total"`
		Pagination struct {
			Limit    int `json:"limit"`
			Offset   int `json:"offset"`
			Returned int `json:"returned"`
		} `json:"pagination"`
	}{
		Files: files,
		Total: res.Total,
		Pagination: struct {
			Limit    int `json:"limit"`
			Offset   int `json:"offset"`
			Returned int `json:"returned"`
		}{Limit: filter.Limit, Offset: filter.Offset, Returned: len(files)},
	})
}

// handleDelete implements DELETE /files/{id}.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deletedAt, err := h.Catalog.Delete(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		FileID    string    `json:"fileId"`
		Message   string    `json:"message"`
		DeletedAt time.Time `json:"deletedAt"`
	}{FileID: id, Message: "file deleted successfully", DeletedAt: deletedAt})
}

// handleExists implements GET /files/{id}/exists.
func (h *Handler) handleExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exists, expired, err := h.Catalog.Exists(r.Context(), id)
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	// exists mirrors whether an info lookup would succeed, so an expired
	// record reports exists=false with the expiry flag set.
	writeJSON(w, http.StatusOK, struct {
		Exists    bool   `json:"exists"`
		FileID    string `json:"fileId"`
		IsExpired bool   `json:"isExpired"`
	}{Exists: exists && !expired, FileID: id, IsExpired: expired})
}

// handleStats implements GET /files/stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Catalog.Stats(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Stats       *domain.Stats `json:"stats"`
		GeneratedAt time.Time     `json:"generatedAt"`
	}{Stats: stats, GeneratedAt: h.Clock.Now().UTC()})
}

// parseFilter builds a SearchFilter from listing query parameters.
func parseFilter(q url.Values) (domain.SearchFilter, error) {
	f := domain.SearchFilter{Limit: defaultListLimit}

	f.MimeType = q.Get("mimeType")
	var err error
	if f.MinSize, err = optionalInt(q.Get("minSize")); err != nil {
		return f, badParam("minSize")
	}
	if f.MaxSize, err = optionalInt(q.Get("maxSize")); err != nil {
		return f, badParam("maxSize")
	}
	if f.UploadedAfter, err = optionalTime(q.Get("uploadedAfter")); err != nil {
		return f, badParam("uploadedAfter")
	}
	if f.UploadedBefore, err = optionalTime(q.Get("uploadedBefore")); err != nil {
		return f, badParam("uploadedBefore")
	}
	if v := q.Get("expiredOnly"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, badParam("expiredOnly")
		}
		f.ExpiredOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			return f, badParam("limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badParam("offset")
		}
		f.Offset = n
	}
	return f, nil
}

func optionalInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("not a valid size")
	}
	return &n, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func badParam(name string) error {
	return fmt.Errorf("%w: invalid query parameter %q", domain.ErrValidation, name)
}
