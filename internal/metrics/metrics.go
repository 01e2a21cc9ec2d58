// Package metrics defines the Prometheus instruments stash exports. All
// metrics use the stash_ prefix. Counters are registered once at startup;
// packages that record them receive the struct by injection and treat a nil
// receiver as "metrics disabled".
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks service-level Prometheus metrics.
type Metrics struct {
	// UploadsTotal counts successful ingests.
	UploadsTotal prometheus.Counter

	// UploadBytesTotal counts bytes accepted by successful ingests.
	UploadBytesTotal prometheus.Counter

	// UploadErrorsTotal counts failed ingests by reason.
	UploadErrorsTotal *prometheus.CounterVec

	// DeletesTotal counts explicit (non-reaper) deletes.
	DeletesTotal prometheus.Counter

	// ReaperRunsTotal counts completed reaper runs.
	ReaperRunsTotal prometheus.Counter

	// ReaperDeletedTotal counts records removed by the reaper.
	ReaperDeletedTotal prometheus.Counter

	// ReaperFreedBytesTotal counts blob bytes reclaimed by the reaper.
	ReaperFreedBytesTotal prometheus.Counter
}

// New creates the metric set and registers it with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_uploads_total",
			Help: "Successful file ingests",
		}),
		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_upload_bytes_total",
			Help: "Bytes accepted by successful ingests",
		}),
		UploadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stash_upload_errors_total",
			Help: "Failed ingests by reason",
		}, []string{"reason"}),
		DeletesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_deletes_total",
			Help: "Explicit file deletions",
		}),
		ReaperRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_reaper_runs_total",
			Help: "Completed reaper runs",
		}),
		ReaperDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_reaper_deleted_total",
			Help: "Records removed by the reaper",
		}),
		ReaperFreedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stash_reaper_freed_bytes_total",
			Help: "Blob bytes reclaimed by the reaper",
		}),
	}
	reg.MustRegister(
		m.UploadsTotal, m.UploadBytesTotal, m.UploadErrorsTotal,
		m.DeletesTotal, m.ReaperRunsTotal, m.ReaperDeletedTotal, m.ReaperFreedBytesTotal,
	)
	return m
}

// Handler returns the exposition endpoint for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
