// Package catalog is the read/delete side of the service: it resolves ids
// to records, enforces expiry visibility, streams blob content, and serves
// search and aggregate queries. Expired records are indistinguishable from
// absent ones on every read path; only deletion still reaches them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
	"github.com/haukened/stash/internal/metrics"
)

// Service answers lookups against the metadata and blob stores.
type Service struct {
	Blobs   blob.Store
	Meta    meta.Store
	Clock   domain.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// GetInfo returns the record for id. Expired and missing records both come
// back as domain.ErrNotFound; malformed ids as domain.ErrInvalidID.
func (s *Service) GetInfo(ctx context.Context, id string) (*domain.FileRecord, error) {
	fid, err := domain.ParseID(id)
	if err != nil {
		return nil, err
	}
	rec, err := s.Meta.GetRecord(ctx, fid.String())
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.Clock.Now()) {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// OpenStream resolves id and opens its blob for reading. The caller owns
// the returned ReadCloser. A record whose blob has gone missing surfaces
// as domain.ErrNotFound, same as an unknown id.
func (s *Service) OpenStream(ctx context.Context, id string) (*domain.FileRecord, io.ReadCloser, error) {
	rec, err := s.GetInfo(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.Blobs.Get(ctx, rec.FilePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger().Error("record without blob", "domain", "catalog", "id", rec.ID)
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: blob read: %v", domain.ErrStoreUnavailable, err)
	}
	return rec, rc, nil
}

// Read returns the full blob content for id. Convenience over OpenStream
// for small files; large transfers should stream instead.
func (s *Service) Read(ctx context.Context, id string) (*domain.FileRecord, []byte, error) {
	rec, rc, err := s.OpenStream(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: blob read: %v", domain.ErrStoreUnavailable, err)
	}
	return rec, data, nil
}

// Delete removes the blob and the record for id and returns the deletion
// instant. Unlike the read paths it operates on expired records too, so a
// client can always clean up its own uploads. A missing blob is fine; a
// missing record is domain.ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) (time.Time, error) {
	fid, err := domain.ParseID(id)
	if err != nil {
		return time.Time{}, err
	}
	rec, err := s.Meta.GetRecord(ctx, fid.String())
	if err != nil {
		return time.Time{}, err
	}
	// Blob first: if this fails the record survives and the delete can be
	// retried. The reverse order would strand an unreachable blob.
	if err := s.Blobs.Delete(ctx, rec.FilePath); err != nil {
		return time.Time{}, fmt.Errorf("%w: blob delete: %v", domain.ErrStoreUnavailable, err)
	}
	if err := s.Meta.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, err
	}
	if s.Metrics != nil {
		s.Metrics.DeletesTotal.Inc()
	}
	deletedAt := s.Clock.Now().UTC()
	s.logger().Info("file deleted", "domain", "catalog", "id", rec.ID, "size", rec.Size)
	return deletedAt, nil
}

// Exists reports whether id resolves to a record at all, and if so whether
// that record has expired. Unlike GetInfo it distinguishes the two, which
// lets HEAD-style probes answer without leaking content.
func (s *Service) Exists(ctx context.Context, id string) (exists, expired bool, err error) {
	fid, err := domain.ParseID(id)
	if err != nil {
		return false, false, err
	}
	rec, err := s.Meta.GetRecord(ctx, fid.String())
	if errors.Is(err, domain.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, rec.Expired(s.Clock.Now()), nil
}

// Search delegates to the metadata store, which applies filtering, sorting,
// and pagination in whatever way suits its backend.
func (s *Service) Search(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error) {
	return s.Meta.SearchRecords(ctx, f)
}

// Stats aggregates the live records.
func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	return s.Meta.Stats(ctx)
}

// Healthy probes both stores and returns the first failure.
func (s *Service) Healthy(ctx context.Context) error {
	if err := s.Blobs.Healthy(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if err := s.Meta.Healthy(ctx); err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	return nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
