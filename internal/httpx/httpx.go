// Package httpx is the HTTP delivery layer for the stash service. It maps
// requests onto the ingest, catalog, and reaper components while enforcing
// body limits, security headers, streaming semantics, and error
// translation. Handlers are split across files by concern (upload.go,
// files.go, download.go, maintenance.go, health.go, errors.go).
package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/fetch"
	"github.com/haukened/stash/internal/ingest"
	"github.com/haukened/stash/internal/metrics"
	"github.com/haukened/stash/internal/reaper"
)

// DefaultTTLMins applies when a request does not name a TTL.
const DefaultTTLMins = 1440

// Uploader is the slice of the ingest pipeline the HTTP layer uses.
// Satisfied by *ingest.Pipeline in production and mocked in tests.
type Uploader interface {
	UploadFile(ctx context.Context, src ingest.UploadedFile, ttl time.Duration, userMeta map[string]any) (*domain.FileRecord, error)
}

// Catalog is the read/delete surface the HTTP layer uses.
// Satisfied by *catalog.Service.
type Catalog interface {
	GetInfo(ctx context.Context, id string) (*domain.FileRecord, error)
	OpenStream(ctx context.Context, id string) (*domain.FileRecord, io.ReadCloser, error)
	Delete(ctx context.Context, id string) (time.Time, error)
	Exists(ctx context.Context, id string) (exists, expired bool, err error)
	Search(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	Healthy(ctx context.Context) error
}

// Sweeper triggers an on-demand cleanup run. Satisfied by *reaper.Reaper.
type Sweeper interface {
	RunOnce(ctx context.Context) (reaper.RunStats, error)
}

// URLFetcher downloads remote files for the URL upload endpoint.
// Satisfied by *fetch.Fetcher.
type URLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.RemoteFile, error)
}

// Handler wires HTTP endpoints to the application components.
// It is safe for concurrent use. Zero value is not valid; populate every
// non-optional field.
type Handler struct {
	Uploads  Uploader
	Catalog  Catalog
	Sweeper  Sweeper
	Fetcher  URLFetcher
	Clock    domain.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics    // optional
	Gatherer prometheus.Gatherer // optional; enables GET /metrics

	BasePath        string // extra prefix in front of /api/v1, may be empty
	DownloadBaseURL string // absolute prefix for downloadUrl fields, may be empty
	MaxBody         int64  // request body cap in bytes, 0 disables
	DefaultTTL      time.Duration
}

// Router mounts all routes and middleware and returns the root handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware)
	r.Use(h.requestLogger)
	r.Use(secureHeaders)

	api := chi.NewRouter()
	api.Post("/files", h.handleUpload)
	api.Post("/files/url", h.handleUploadURL)
	api.Get("/files", h.handleList)
	api.Get("/files/stats", h.handleStats)
	api.Get("/files/{id}", h.handleInfo)
	api.Delete("/files/{id}", h.handleDelete)
	api.Get("/files/{id}/exists", h.handleExists)
	api.Get("/download/{id}", h.handleDownload)
	api.Post("/maintenance/run", h.handleMaintenance)
	api.Post("/cleanup/run", h.handleMaintenance)

	r.Mount(h.apiPrefix(), api)
	r.Get("/health", h.handleHealth)
	if h.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(h.Gatherer))
	}
	return r
}

// apiPrefix joins the optional operator prefix with the versioned base.
func (h *Handler) apiPrefix() string {
	base := "/api/v1"
	if h.BasePath == "" || h.BasePath == "/" {
		return base
	}
	p := h.BasePath
	if p[0] != '/' {
		p = "/" + p
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p + base
}

func (h *Handler) defaultTTL() time.Duration {
	if h.DefaultTTL > 0 {
		return h.DefaultTTL
	}
	return DefaultTTLMins * time.Minute
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
