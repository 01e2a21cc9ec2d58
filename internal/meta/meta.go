// Package meta defines the metadata store port and the filter/sort/paginate
// helpers shared by its variants. Three adapters exist: badgermeta (KV with
// native TTL), sqlmeta (SQLite), and blobmeta (records encoded into the
// blob store itself).
package meta

import (
	"context"
	"sort"
	"time"

	"github.com/haukened/stash/internal/domain"
)

// Store is the metadata port. GetRecord returns records regardless of
// expiry; expiry filtering on read paths is the catalog's job, which keeps
// delete-of-expired working. Implementations must be safe for concurrent
// use and must wrap backend failures so callers can treat them uniformly.
type Store interface {
	// SaveRecord persists a new record. Records are immutable; saving an
	// id twice is a caller bug and backends may reject or overwrite it.
	SaveRecord(ctx context.Context, rec *domain.FileRecord) error

	// GetRecord fetches a record by id. Returns domain.ErrNotFound if absent.
	GetRecord(ctx context.Context, id string) (*domain.FileRecord, error)

	// DeleteRecord removes the record. Returns domain.ErrNotFound if absent.
	DeleteRecord(ctx context.Context, id string) error

	// SearchRecords applies the filter and returns a sorted page plus the
	// total match count before offset/limit.
	SearchRecords(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error)

	// Stats aggregates the live records.
	Stats(ctx context.Context) (*domain.Stats, error)

	// ListAllIDs returns the id of every record, expired or not. The reaper
	// diffs this against blob keys to find orphans.
	ListAllIDs(ctx context.Context) ([]string, error)

	// Healthy probes the backend.
	Healthy(ctx context.Context) error
}

// SortRecords orders records by uploadedAt descending, ties broken by id
// ascending. Every variant that filters in memory sorts with this.
func SortRecords(recs []domain.FileRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].UploadedAt.After(recs[j].UploadedAt)
	})
}

// ApplyFilter evaluates f over recs at instant now: filter, sort, then
// offset/limit. Total counts matches before pagination.
func ApplyFilter(recs []domain.FileRecord, f domain.SearchFilter, now time.Time) *domain.SearchResult {
	matched := make([]domain.FileRecord, 0, len(recs))
	for i := range recs {
		if f.Matches(&recs[i], now) {
			matched = append(matched, recs[i])
		}
	}
	SortRecords(matched)
	total := len(matched)

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return &domain.SearchResult{Records: matched, Total: total, Filter: f}
}

// Aggregate builds stats over the non-expired subset of recs.
func Aggregate(recs []domain.FileRecord, now time.Time) *domain.Stats {
	st := &domain.Stats{
		FilesByMime: map[string]int64{},
		FilesByDate: map[string]int64{},
	}
	for i := range recs {
		if recs[i].Expired(now) {
			continue
		}
		st.TotalFiles++
		st.TotalSize += recs[i].Size
		st.FilesByMime[recs[i].MimeType]++
		st.FilesByDate[recs[i].UploadedAt.UTC().Format("2006-01-02")]++
	}
	return st
}
