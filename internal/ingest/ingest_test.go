package ingest

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/domain"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

// --- Fakes ---

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	metas   map[string]blob.UserMeta
	putErr  error
	deletes []string
}

func newMemBlob() *memBlob {
	return &memBlob{objects: map[string][]byte{}, metas: map[string]blob.UserMeta{}}
}

func (m *memBlob) Put(ctx context.Context, key string, r io.Reader, contentType string, size int64, um blob.UserMeta) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.metas[key] = um
	return nil
}

func (m *memBlob) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Head(ctx context.Context, key string) (blob.UserMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	um, ok := m.metas[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return um, nil
}

func (m *memBlob) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.metas, key)
	m.deletes = append(m.deletes, key)
	return nil
}

func (m *memBlob) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memBlob) Healthy(ctx context.Context) error { return nil }

type memMeta struct {
	mu      sync.Mutex
	records map[string]*domain.FileRecord
	saveErr error
}

func newMemMeta() *memMeta { return &memMeta{records: map[string]*domain.FileRecord{}} }

func (m *memMeta) SaveRecord(ctx context.Context, rec *domain.FileRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memMeta) GetRecord(ctx context.Context, id string) (*domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memMeta) DeleteRecord(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memMeta) SearchRecords(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error) {
	return &domain.SearchResult{}, nil
}

func (m *memMeta) Stats(ctx context.Context) (*domain.Stats, error) { return &domain.Stats{}, nil }

func (m *memMeta) ListAllIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (m *memMeta) Healthy(ctx context.Context) error { return nil }

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newPipeline(t *testing.T) (*Pipeline, *memBlob, *memMeta, *fixedClock) {
	t.Helper()
	blobs := newMemBlob()
	recs := newMemMeta()
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p := &Pipeline{
		Blobs:       blobs,
		Meta:        recs,
		Clock:       clock,
		MaxFileSize: 1 << 20,
	}
	return p, blobs, recs, clock
}

func upload(name, mime, body string) UploadedFile {
	return UploadedFile{Name: name, DeclaredMime: mime, DeclaredSize: SizeUnknown, Content: strings.NewReader(body)}
}

// --- Tests ---

func TestUploadHappyPath(t *testing.T) {
	p, blobs, recs, clock := newPipeline(t)
	ctx := context.Background()

	rec, err := p.UploadFile(ctx, upload("greet.txt", "text/plain", "hello"), 120*time.Second, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 5, rec.Size)
	assert.Equal(t, helloSHA256, rec.Hash)
	assert.Equal(t, "text/plain", rec.MimeType)
	assert.Equal(t, "greet.txt", rec.OriginalName)
	assert.Equal(t, rec.ID, rec.FilePath)
	assert.Equal(t, clock.now, rec.UploadedAt)
	assert.Equal(t, clock.now.Add(120*time.Second), rec.ExpiresAt)
	assert.EqualValues(t, 120, rec.TTLSeconds)

	assert.Equal(t, []byte("hello"), blobs.objects[rec.ID])
	assert.Equal(t, "greet.txt", blobs.metas[rec.ID][blob.MetaOriginalName])
	assert.Equal(t, "text/plain", blobs.metas[rec.ID][blob.MetaMimeType])

	stored, err := recs.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestUploadDeliversBytesInOrderAcrossPeekBoundary(t *testing.T) {
	// The peel-then-resume stream is the invariant most worth hammering:
	// bytes must reach the store exactly once, in order, for sizes below,
	// at, and above the peek window.
	p, blobs, _, _ := newPipeline(t)
	ctx := context.Background()

	for _, size := range []int{0, 1, peekSize - 1, peekSize, peekSize + 1, 3*peekSize + 17} {
		payload := make([]byte, size)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		src := UploadedFile{Name: "data.bin", DeclaredSize: SizeUnknown, Content: bytes.NewReader(payload)}
		rec, err := p.UploadFile(ctx, src, time.Hour, nil)
		require.NoError(t, err, "size %d", size)

		assert.EqualValues(t, size, rec.Size, "size %d", size)
		assert.Equal(t, payload, blobs.objects[rec.ID], "size %d", size)
		sum := sha256.Sum256(payload)
		assert.Equal(t, hex.EncodeToString(sum[:]), rec.Hash, "size %d", size)
	}
}

func TestUploadSizeCapCompensates(t *testing.T) {
	p, blobs, recs, _ := newPipeline(t)
	p.MaxFileSize = 8
	ctx := context.Background()

	_, err := p.UploadFile(ctx, upload("big.bin", "", "way more than eight bytes"), time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrSizeExceeded)
	assert.Empty(t, blobs.objects, "no blob may survive a capped upload")
	assert.Empty(t, recs.records)
}

func TestUploadDeclaredSizeHintRejectedEarly(t *testing.T) {
	p, blobs, _, _ := newPipeline(t)
	p.MaxFileSize = 8
	src := UploadedFile{Name: "big.bin", DeclaredSize: 100, Content: strings.NewReader("x")}
	_, err := p.UploadFile(context.Background(), src, time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrSizeExceeded)
	assert.Empty(t, blobs.deletes, "nothing was written, nothing to compensate")
}

func TestUploadMimeAllowList(t *testing.T) {
	p, blobs, recs, _ := newPipeline(t)
	p.AllowedMimes = []string{"image/png"}
	ctx := context.Background()

	_, err := p.UploadFile(ctx, upload("greet.txt", "text/plain", "hello"), time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrMimeNotAllowed)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, recs.records)
}

func TestUploadEmptyAllowListAcceptsAnything(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	rec, err := p.UploadFile(context.Background(), upload("greet.txt", "text/plain", "hello"), time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", rec.MimeType)
}

func TestUploadMimeFallsBackToDeclared(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	// 0xFF bytes do not match any magic signature.
	payload := bytes.Repeat([]byte{0xFF}, 64)
	src := UploadedFile{Name: "raw.bin", DeclaredMime: "application/x-custom; charset=binary", DeclaredSize: SizeUnknown, Content: bytes.NewReader(payload)}
	rec, err := p.UploadFile(context.Background(), src, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/x-custom", rec.MimeType)
}

func TestUploadMimeDefaultsToOctetStream(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	rec, err := p.UploadFile(context.Background(), UploadedFile{Name: "empty.bin", DeclaredSize: SizeUnknown, Content: strings.NewReader("")}, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", rec.MimeType)
	assert.EqualValues(t, 0, rec.Size)
}

func TestUploadTTLBounds(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	p.MaxTTL = 10 * time.Minute
	ctx := context.Background()

	for _, ttl := range []time.Duration{domain.MinTTL, 10 * time.Minute} {
		_, err := p.UploadFile(ctx, upload("a.txt", "", "x"), ttl, nil)
		assert.NoError(t, err, "ttl %v", ttl)
	}
	for _, ttl := range []time.Duration{domain.MinTTL - time.Second, 10*time.Minute + time.Second, 0} {
		_, err := p.UploadFile(ctx, upload("a.txt", "", "x"), ttl, nil)
		assert.ErrorIs(t, err, domain.ErrTTLInvalid, "ttl %v", ttl)
	}
}

func TestUploadValidation(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	ctx := context.Background()

	_, err := p.UploadFile(ctx, upload("", "", "x"), time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	badMeta := map[string]any{"k": strings.Repeat("v", domain.MaxMetadataValueLen+1)}
	_, err = p.UploadFile(ctx, upload("a.txt", "", "x"), time.Hour, badMeta)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploadMetadataWriteFailureCompensates(t *testing.T) {
	p, blobs, recs, _ := newPipeline(t)
	recs.saveErr = errors.New("kv down")
	ctx := context.Background()

	_, err := p.UploadFile(ctx, upload("greet.txt", "", "hello"), time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, blobs.objects, "blob must be compensated when the record write fails")
	assert.Len(t, blobs.deletes, 1)
}

func TestUploadBlobWriteFailure(t *testing.T) {
	p, blobs, recs, _ := newPipeline(t)
	blobs.putErr = errors.New("disk full")
	_, err := p.UploadFile(context.Background(), upload("greet.txt", "", "hello"), time.Hour, nil)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Empty(t, recs.records)
}

func TestUploadCancelledContext(t *testing.T) {
	p, blobs, recs, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.UploadFile(ctx, upload("greet.txt", "", "hello"), time.Hour, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, recs.records)
}

func TestUploadStoredNameDerivedFromOriginal(t *testing.T) {
	p, _, _, _ := newPipeline(t)
	rec, err := p.UploadFile(context.Background(), upload("my report !.pdf", "application/pdf", "%PDF-1.4 fake"), time.Hour, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^my_report_[0-9a-f]{8}\.pdf$`, rec.StoredName)
}
