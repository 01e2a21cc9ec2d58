// Package fsblob provides a blob.Store implementation backed by the local
// filesystem. Blob bytes live in files named by their key under a fixed
// root; user metadata lives in a JSON sidecar next to each blob. Keys may
// contain '/' and map onto subdirectories, which is how the blob-encoded
// metadata variant lays out its expiry-prefixed keys.
package fsblob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haukened/stash/internal/blob"
)

// metaSuffix names the sidecar file carrying a blob's user metadata.
const metaSuffix = ".meta"

// Ensure Store implements the port plus the sorted-listing capability.
var (
	_ blob.Store        = (*Store)(nil)
	_ blob.SortedLister = (*Store)(nil)
)

// Store implements blob.Store on a local directory tree.
type Store struct {
	root string
}

// New returns a filesystem-backed blob store rooted at dir. The directory
// must already exist with secure permissions (0700 recommended).
func New(root string) (*Store, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &Store{root: root}, nil
}

// ListsSorted reports that List output is lexicographically sorted.
func (s *Store) ListsSorted() bool { return true }

// path maps a validated key onto the file holding its bytes.
func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes r to the blob file for key, creating parent directories as
// needed. The data file is created with O_EXCL so a duplicate key fails
// rather than silently overwriting. Partial writes are removed on error.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string, size int64, meta blob.UserMeta) error {
	if err := validateKey(key); err != nil {
		return err
	}
	p := s.path(key)
	if dir := filepath.Dir(p); dir != s.root {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	// #nosec G304: path is a fixed root joined with a validated key; no traversal possible.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(p)
		return err
	}
	if meta == nil && contentType == "" {
		return nil
	}
	if err := s.writeSidecar(p, contentType, meta); err != nil {
		_ = os.Remove(p)
		return err
	}
	return nil
}

// sidecar is the on-disk shape of a blob's metadata file.
type sidecar struct {
	ContentType string        `json:"contentType,omitempty"`
	UserMeta    blob.UserMeta `json:"userMeta,omitempty"`
}

func (s *Store) writeSidecar(blobPath, contentType string, meta blob.UserMeta) error {
	b, err := json.Marshal(sidecar{ContentType: contentType, UserMeta: meta})
	if err != nil {
		return err
	}
	return os.WriteFile(blobPath+metaSuffix, b, 0o600)
}

// Get opens the blob file for reading.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key)) // #nosec G304 path constructed internally
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Head reads the sidecar for key. A blob written without metadata yields an
// empty UserMeta rather than an error.
func (s *Store) Head(_ context.Context, key string) (blob.UserMeta, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	p := s.path(key)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, err
	}
	b, err := os.ReadFile(p + metaSuffix) // #nosec G304 path constructed internally
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return blob.UserMeta{}, nil
		}
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, err
	}
	if sc.UserMeta == nil {
		return blob.UserMeta{}, nil
	}
	return sc.UserMeta, nil
}

// Delete removes the blob file and its sidecar. Missing files are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := validateKey(key); err != nil {
		return err
	}
	p := s.path(key)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List walks the tree and returns every blob key with the given prefix,
// sorted lexicographically. Sidecar files are not keys and are skipped.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Healthy verifies the root directory still exists and is a directory.
func (s *Store) Healthy(_ context.Context) error {
	fi, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.New("blob root is not a directory")
	}
	return nil
}

// validateKey enforces that a key is composed of clean slash-separated
// segments drawn from [A-Za-z0-9._-]. This prevents path traversal and
// keeps the on-disk layout predictable.
func validateKey(key string) error {
	if key == "" || len(key) > 512 {
		return errors.New("invalid blob key: empty or too long")
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.New("invalid blob key: leading or trailing slash")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.New("invalid blob key: bad path segment")
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			switch {
			case c >= '0' && c <= '9':
			case c >= 'a' && c <= 'z':
			case c >= 'A' && c <= 'Z':
			case c == '.' || c == '_' || c == '-':
			default:
				return errors.New("invalid blob key: illegal character")
			}
		}
	}
	return nil
}
