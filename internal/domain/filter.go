// Package domain filter.go defines the search filter, result, and stats
// contracts shared by every metadata store variant.
package domain

import "time"

// SearchFilter narrows a record listing. Nil pointer fields mean "no bound".
// Size bounds are inclusive; time bounds are strict. ExpiredOnly=false
// filters expired records out, ExpiredOnly=true returns only expired ones.
type SearchFilter struct {
	MimeType       string
	MinSize        *int64
	MaxSize        *int64
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
	ExpiredOnly    bool
	Limit          int // <=0 means no limit
	Offset         int
}

// Matches reports whether rec passes every filter predicate at instant now.
func (f SearchFilter) Matches(rec *FileRecord, now time.Time) bool {
	if f.MimeType != "" && rec.MimeType != f.MimeType {
		return false
	}
	if f.MinSize != nil && rec.Size < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && rec.Size > *f.MaxSize {
		return false
	}
	if f.UploadedAfter != nil && !rec.UploadedAt.After(*f.UploadedAfter) {
		return false
	}
	if f.UploadedBefore != nil && !rec.UploadedAt.Before(*f.UploadedBefore) {
		return false
	}
	if rec.Expired(now) != f.ExpiredOnly {
		return false
	}
	return true
}

// SearchResult carries the page of records plus the total match count
// (after filtering, before offset/limit) and the filter that produced it.
type SearchResult struct {
	Records []FileRecord `json:"records"`
	Total   int          `json:"total"`
	Filter  SearchFilter `json:"-"`
}

// Stats aggregates the live (non-expired) catalog contents.
type Stats struct {
	TotalFiles  int64            `json:"totalFiles"`
	TotalSize   int64            `json:"totalSize"`
	FilesByMime map[string]int64 `json:"filesByMime"`
	FilesByDate map[string]int64 `json:"filesByDate"` // keyed by UTC date "2006-01-02"
}
