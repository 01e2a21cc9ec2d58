package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UploadsTotal.Inc()
	m.UploadBytesTotal.Add(5)
	m.UploadErrorsTotal.WithLabelValues("size").Inc()
	m.DeletesTotal.Inc()
	m.ReaperRunsTotal.Inc()
	m.ReaperDeletedTotal.Add(2)
	m.ReaperFreedBytesTotal.Add(10)

	fams, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(fams))
	for _, f := range fams {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"stash_uploads_total",
		"stash_upload_bytes_total",
		"stash_upload_errors_total",
		"stash_deletes_total",
		"stash_reaper_runs_total",
		"stash_reaper_deleted_total",
		"stash_reaper_freed_bytes_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.UploadsTotal.Inc()

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), "stash_uploads_total 1")
}
