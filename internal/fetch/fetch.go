// Package fetch turns a remote URL into an upload source. It is the only
// part of the service that dials out; everything it returns flows through
// the same ingest pipeline as a direct upload, so remote content gets the
// identical size cap, MIME detection, and hash treatment.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/ingest"
)

// maxRedirects bounds how far a fetch will follow Location chains.
const maxRedirects = 5

// defaultTimeout caps the whole fetch when the caller's context carries no
// deadline of its own.
const defaultTimeout = 2 * time.Minute

// fallbackName is used when neither the response headers nor the URL path
// yield a usable filename.
const fallbackName = "file"

// Fetcher downloads remote files for ingestion.
type Fetcher struct {
	client      *http.Client
	maxFileSize int64
}

// New builds a Fetcher. maxFileSize <= 0 disables the Content-Length
// pre-check; the ingest meter still enforces the cap on actual bytes.
func New(maxFileSize int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		maxFileSize: maxFileSize,
	}
}

// RemoteFile is a fetched response ready for ingestion. The caller must
// Close it once the ingest pipeline has drained the content.
type RemoteFile struct {
	File ingest.UploadedFile
	body io.ReadCloser
}

// Close releases the underlying response body.
func (r *RemoteFile) Close() error { return r.body.Close() }

// NewRemoteFile wraps an already-open source as a RemoteFile. Callers that
// obtained the body elsewhere (tests, retried fetches) use this instead of
// Fetch.
func NewRemoteFile(file ingest.UploadedFile, body io.ReadCloser) *RemoteFile {
	return &RemoteFile{File: file, body: body}
}

// Fetch issues a GET for rawURL and wraps the response for ingestion.
// Only http and https schemes are accepted. A declared Content-Length
// beyond the configured cap fails before any body bytes are read.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*RemoteFile, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", domain.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", domain.ErrValidation, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url has no host", domain.ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: remote fetch: %v", domain.ErrValidation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: remote returned %s", domain.ErrValidation, resp.Status)
	}
	if f.maxFileSize > 0 && resp.ContentLength > f.maxFileSize {
		resp.Body.Close()
		return nil, domain.ErrSizeExceeded
	}

	size := resp.ContentLength
	if size < 0 {
		size = ingest.SizeUnknown
	}
	return &RemoteFile{
		File: ingest.UploadedFile{
			Name:         filename(resp, u),
			DeclaredMime: resp.Header.Get("Content-Type"),
			DeclaredSize: size,
			Content:      resp.Body,
		},
		body: resp.Body,
	}, nil
}

// filename derives the original name: Content-Disposition first, then the
// last segment of the final request URL (after redirects), then a constant.
func filename(resp *http.Response, requested *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := path.Base(params["filename"]); usableName(name) {
				return name
			}
		}
	}
	final := requested
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if name := path.Base(final.Path); usableName(name) {
		return name
	}
	return fallbackName
}

func usableName(name string) bool {
	switch name {
	case "", ".", "/":
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
