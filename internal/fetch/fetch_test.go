package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/domain"
)

func TestFetchHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	f := New(1 << 20)
	remote, err := f.Fetch(context.Background(), srv.URL+"/docs/report.txt")
	require.NoError(t, err)
	defer remote.Close()

	assert.Equal(t, "report.txt", remote.File.Name)
	assert.Equal(t, "text/plain; charset=utf-8", remote.File.DeclaredMime)
	assert.EqualValues(t, 5, remote.File.DeclaredSize)

	body, err := io.ReadAll(remote.File.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestFetchContentDispositionWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="actual name.pdf"`)
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	f := New(0)
	remote, err := f.Fetch(context.Background(), srv.URL+"/ignored.bin")
	require.NoError(t, err)
	defer remote.Close()
	assert.Equal(t, "actual name.pdf", remote.File.Name)
}

func TestFetchFallbackName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	f := New(0)
	remote, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	defer remote.Close()
	assert.Equal(t, "file", remote.File.Name)
}

func TestFetchNameFollowsRedirect(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, srv.URL+"/final/data.csv", http.StatusFound)
			return
		}
		fmt.Fprint(w, "a,b")
	}))
	defer srv.Close()

	f := New(0)
	remote, err := f.Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	defer remote.Close()
	assert.Equal(t, "data.csv", remote.File.Name)
}

func TestFetchRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	hops := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("%s/hop/%d", srv.URL, hops), http.StatusFound)
	}))
	defer srv.Close()

	f := New(0)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := New(0)
	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"not a url at all\x00",
		"http://",
	} {
		_, err := f.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrValidation, "url %q", raw)
	}
}

func TestFetchRejectsUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(0)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFetchContentLengthPreCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		fmt.Fprint(w, "this body claims to be one hundred bytes")
	}))
	defer srv.Close()

	f := New(8)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrSizeExceeded)
}

func TestFetchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(0)
	_, err := f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUsableName(t *testing.T) {
	assert.True(t, usableName("a.txt"))
	assert.False(t, usableName(""))
	assert.False(t, usableName("."))
	assert.False(t, usableName("/"))
	assert.False(t, usableName("a/b"))
}
