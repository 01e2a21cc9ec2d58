package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haukened/stash/internal/domain"
)

func sampleRecords(now time.Time) []domain.FileRecord {
	return []domain.FileRecord{
		{ID: "b", MimeType: "application/pdf", Size: 1000, UploadedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "a", MimeType: "image/jpeg", Size: 500, UploadedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "c", MimeType: "text/plain", Size: 10, UploadedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)},
		{ID: "d", MimeType: "text/plain", Size: 20, UploadedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Minute)}, // expired
	}
}

func TestSortRecords(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recs := sampleRecords(now)
	SortRecords(recs)
	ids := []string{recs[0].ID, recs[1].ID, recs[2].ID, recs[3].ID}
	// newest first; equal uploadedAt ties break by id ascending
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestApplyFilterExcludesExpiredByDefault(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := ApplyFilter(sampleRecords(now), domain.SearchFilter{}, now)
	assert.Equal(t, 3, res.Total)
	for _, r := range res.Records {
		assert.NotEqual(t, "d", r.ID)
	}
}

func TestApplyFilterExpiredOnly(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	res := ApplyFilter(sampleRecords(now), domain.SearchFilter{ExpiredOnly: true}, now)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "d", res.Records[0].ID)
}

func TestApplyFilterMimeAndSize(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	min := int64(100)
	res := ApplyFilter(sampleRecords(now), domain.SearchFilter{MimeType: "application/pdf", MinSize: &min}, now)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, "b", res.Records[0].ID)
}

func TestApplyFilterPagination(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recs := sampleRecords(now)

	page := ApplyFilter(recs, domain.SearchFilter{Limit: 2}, now)
	assert.Equal(t, 3, page.Total, "total counts all matches before limit")
	assert.Len(t, page.Records, 2)

	second := ApplyFilter(recs, domain.SearchFilter{Limit: 2, Offset: 2}, now)
	assert.Equal(t, 3, second.Total)
	assert.Len(t, second.Records, 1)

	beyond := ApplyFilter(recs, domain.SearchFilter{Offset: 10}, now)
	assert.Equal(t, 3, beyond.Total)
	assert.Empty(t, beyond.Records)
}

func TestAggregate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := Aggregate(sampleRecords(now), now)
	assert.EqualValues(t, 3, st.TotalFiles)
	assert.EqualValues(t, 1510, st.TotalSize)
	assert.EqualValues(t, 1, st.FilesByMime["application/pdf"])
	assert.EqualValues(t, 1, st.FilesByMime["text/plain"], "expired records do not count")
	assert.EqualValues(t, 3, st.FilesByDate["2025-06-01"])
}
