// Package blob defines the byte-level object store port. Adapter packages
// (fsblob, s3blob) provide concrete implementations; everything above this
// layer addresses blobs only through the Store interface. Callers outside
// the storage layer should not import the adapters directly.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Head when no blob exists under the key.
// Delete treats a missing key as success.
var ErrNotFound = errors.New("blob not found")

// Well-known user-metadata keys attached to blobs at ingest time.
const (
	MetaOriginalName = "original-name"
	MetaMimeType     = "mime-type"
	MetaSize         = "size"
	MetaHash         = "hash"
	MetaUploadedAt   = "uploaded-at"
	MetaTTL          = "ttl"
	MetaExpiresAt    = "expires-at"
	MetaStoredName   = "stored-name"
)

// UserMeta is the free-form string metadata stored alongside a blob.
type UserMeta map[string]string

// SizeUnknown is passed to Put when the caller cannot declare a length up
// front. Implementations with fixed-length backends must buffer internally.
const SizeUnknown int64 = -1

// Store is the object store port. Operations on distinct keys are mutually
// unordered; operations on the same key serialize by backend semantics.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put streams r into the blob under key. size is the declared byte count
	// or SizeUnknown. meta may be nil. A failed Put must not leave a partial
	// blob behind.
	Put(ctx context.Context, key string, r io.Reader, contentType string, size int64, meta UserMeta) error

	// Get opens the blob for reading. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head returns the user metadata stored with the blob without opening
	// its content. Returns ErrNotFound if absent.
	Head(ctx context.Context, key string) (UserMeta, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix. Implementations page
	// through their backend internally; callers see the flat slice.
	List(ctx context.Context, prefix string) ([]string, error)

	// Healthy probes the backend and returns an error when it is unusable.
	Healthy(ctx context.Context) error
}

// SortedLister is an optional capability: stores whose List output is
// lexicographically sorted report it here, which lets expiry-keyed scans
// short-circuit instead of reading every key.
type SortedLister interface {
	ListsSorted() bool
}

// ListsSorted reports whether s is known to return sorted listings.
func ListsSorted(s Store) bool {
	if sl, ok := s.(SortedLister); ok {
		return sl.ListsSorted()
	}
	return false
}
