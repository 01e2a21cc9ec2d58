package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/haukened/stash/internal/domain"
)

// FileResponse is the wire form of a FileRecord.
type FileResponse struct {
	ID                string         `json:"id"`
	OriginalName      string         `json:"originalName"`
	MimeType          string         `json:"mimeType"`
	Size              int64          `json:"size"`
	Hash              string         `json:"hash"`
	UploadedAt        time.Time      `json:"uploadedAt"`
	TTLMins           int64          `json:"ttlMins"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	IsExpired         bool           `json:"isExpired"`
	TimeRemainingMins int64          `json:"timeRemainingMins"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// UploadResponse is returned for each successfully ingested file.
type UploadResponse struct {
	File         FileResponse `json:"file"`
	DownloadURL  string       `json:"downloadUrl"`
	DownloadPath string       `json:"downloadPath"`
	InfoURL      string       `json:"infoUrl"`
	DeleteURL    string       `json:"deleteUrl"`
	Message      string       `json:"message"`
}

// fileResponse projects rec at instant now.
func (h *Handler) fileResponse(rec *domain.FileRecord, now time.Time) FileResponse {
	remaining := rec.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return FileResponse{
		ID:                rec.ID,
		OriginalName:      rec.OriginalName,
		MimeType:          rec.MimeType,
		Size:              rec.Size,
		Hash:              rec.Hash,
		UploadedAt:        rec.UploadedAt,
		TTLMins:           rec.TTLSeconds / 60,
		ExpiresAt:         rec.ExpiresAt,
		IsExpired:         rec.Expired(now),
		TimeRemainingMins: int64(remaining / time.Minute),
		Metadata:          rec.Metadata,
	}
}

// uploadResponse assembles the envelope of links around a fresh record.
func (h *Handler) uploadResponse(rec *domain.FileRecord, now time.Time) UploadResponse {
	downloadPath := h.apiPrefix() + "/download/" + rec.ID
	infoPath := h.apiPrefix() + "/files/" + rec.ID
	return UploadResponse{
		File:         h.fileResponse(rec, now),
		DownloadURL:  h.DownloadBaseURL + downloadPath,
		DownloadPath: downloadPath,
		InfoURL:      h.DownloadBaseURL + infoPath,
		DeleteURL:    h.DownloadBaseURL + infoPath,
		Message:      "file uploaded successfully",
	}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
