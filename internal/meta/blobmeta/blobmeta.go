// Package blobmeta implements the metadata store port on top of a blob
// store, removing the need for a separate metadata backend. Each record is
// written as JSON under the key
//
//	metadata/<expiresAtMillis>__<id>.json
//
// with the millisecond timestamp zero-padded to 13 digits. Lexicographic
// key order therefore equals expiry order, so a backend that lists keys
// sorted lets an expired-only scan stop at the first key whose timestamp
// lies in the future. Backends without sorted listings fall back to
// reading every metadata key.
package blobmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
)

// Prefix reserves the metadata keyspace inside the blob store. The reaper's
// orphan scan skips keys below it.
const Prefix = "metadata/"

var _ meta.Store = (*Store)(nil)

// Store implements meta.Store by encoding records into a blob.Store.
type Store struct {
	blobs blob.Store
	clock domain.Clock
}

// New returns a Store layered over blobs.
func New(blobs blob.Store, clock domain.Clock) *Store {
	return &Store{blobs: blobs, clock: clock}
}

// recordKey builds the expiry-sortable key for a record.
func recordKey(rec *domain.FileRecord) string {
	return fmt.Sprintf("%s%013d__%s.json", Prefix, rec.ExpiresAt.UnixMilli(), rec.ID)
}

// parseKey splits a metadata key into its expiry millis and record id.
func parseKey(key string) (expiresMillis int64, id string, ok bool) {
	rest, found := strings.CutPrefix(key, Prefix)
	if !found || !strings.HasSuffix(rest, ".json") {
		return 0, "", false
	}
	rest = strings.TrimSuffix(rest, ".json")
	tsPart, idPart, found := strings.Cut(rest, "__")
	if !found || idPart == "" {
		return 0, "", false
	}
	ms, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ms, idPart, true
}

// SaveRecord serializes the record under its expiry-prefixed key.
func (s *Store) SaveRecord(ctx context.Context, rec *domain.FileRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.blobs.Put(ctx, recordKey(rec), bytes.NewReader(b), "application/json", int64(len(b)), nil)
	if err != nil {
		return fmt.Errorf("%w: save metadata: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetRecord first tries to synthesize the record from the user metadata the
// ingest attached to the blob itself; when those fields are incomplete it
// falls back to locating the metadata key.
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.FileRecord, error) {
	if um, err := s.blobs.Head(ctx, id); err == nil {
		if rec, ok := recordFromUserMeta(id, um); ok {
			return rec, nil
		}
	} else if !errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: head blob: %v", domain.ErrStoreUnavailable, err)
	}

	key, err := s.findKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.readRecord(ctx, key)
}

// DeleteRecord removes every metadata key for the id. More than one key can
// exist if a save ever succeeded twice; all are deleted.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	keys, err := s.blobs.List(ctx, Prefix)
	if err != nil {
		return fmt.Errorf("%w: list metadata: %v", domain.ErrStoreUnavailable, err)
	}
	found := false
	for _, key := range keys {
		if _, keyID, ok := parseKey(key); ok && keyID == id {
			found = true
			if err := s.blobs.Delete(ctx, key); err != nil {
				return fmt.Errorf("%w: delete metadata: %v", domain.ErrStoreUnavailable, err)
			}
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// SearchRecords walks the metadata prefix, parses records, and filters in
// memory. Expired-only scans short-circuit on sorted backends: once a key's
// expiry timestamp passes now, no later key can be expired.
func (s *Store) SearchRecords(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error) {
	now := s.clock.Now()
	keys, err := s.blobs.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list metadata: %v", domain.ErrStoreUnavailable, err)
	}

	sorted := blob.ListsSorted(s.blobs)
	nowMillis := now.UnixMilli()
	var recs []domain.FileRecord
	for _, key := range keys {
		ms, _, ok := parseKey(key)
		if !ok {
			continue
		}
		if f.ExpiredOnly && sorted && ms > nowMillis {
			break
		}
		if f.ExpiredOnly && ms > nowMillis {
			continue
		}
		rec, err := s.readRecord(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return meta.ApplyFilter(recs, f, now), nil
}

// Stats reads every record and aggregates the live subset.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	recs, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return meta.Aggregate(recs, s.clock.Now()), nil
}

// ListAllIDs derives ids from the metadata keys without reading bodies.
func (s *Store) ListAllIDs(ctx context.Context) ([]string, error) {
	keys, err := s.blobs.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list metadata: %v", domain.ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, id, ok := parseKey(key); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Healthy defers to the underlying blob store.
func (s *Store) Healthy(ctx context.Context) error {
	return s.blobs.Healthy(ctx)
}

func (s *Store) findKey(ctx context.Context, id string) (string, error) {
	keys, err := s.blobs.List(ctx, Prefix)
	if err != nil {
		return "", fmt.Errorf("%w: list metadata: %v", domain.ErrStoreUnavailable, err)
	}
	for _, key := range keys {
		if _, keyID, ok := parseKey(key); ok && keyID == id {
			return key, nil
		}
	}
	return "", domain.ErrNotFound
}

func (s *Store) readRecord(ctx context.Context, key string) (*domain.FileRecord, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: read metadata: %v", domain.ErrStoreUnavailable, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", domain.ErrStoreUnavailable, err)
	}
	var rec domain.FileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("corrupt metadata under %s: %w", key, err)
	}
	rec.Normalize()
	return &rec, nil
}

func (s *Store) loadAll(ctx context.Context) ([]domain.FileRecord, error) {
	keys, err := s.blobs.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list metadata: %v", domain.ErrStoreUnavailable, err)
	}
	var recs []domain.FileRecord
	for _, key := range keys {
		if _, _, ok := parseKey(key); !ok {
			continue
		}
		rec, err := s.readRecord(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

// recordFromUserMeta rebuilds a record from the user metadata stored with
// the blob itself. All decisive fields must be present and parseable;
// otherwise the caller falls back to the metadata key.
func recordFromUserMeta(id string, um blob.UserMeta) (*domain.FileRecord, bool) {
	required := []string{
		blob.MetaOriginalName, blob.MetaMimeType, blob.MetaSize, blob.MetaHash,
		blob.MetaUploadedAt, blob.MetaTTL, blob.MetaExpiresAt, blob.MetaStoredName,
	}
	for _, k := range required {
		if um[k] == "" {
			return nil, false
		}
	}
	size, err := strconv.ParseInt(um[blob.MetaSize], 10, 64)
	if err != nil {
		return nil, false
	}
	ttl, err := strconv.ParseInt(um[blob.MetaTTL], 10, 64)
	if err != nil {
		return nil, false
	}
	uploadedAt, err := time.Parse(time.RFC3339Nano, um[blob.MetaUploadedAt])
	if err != nil {
		return nil, false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, um[blob.MetaExpiresAt])
	if err != nil {
		return nil, false
	}
	return &domain.FileRecord{
		ID:           id,
		OriginalName: um[blob.MetaOriginalName],
		StoredName:   um[blob.MetaStoredName],
		MimeType:     um[blob.MetaMimeType],
		Size:         size,
		Hash:         um[blob.MetaHash],
		UploadedAt:   uploadedAt.UTC(),
		TTLSeconds:   ttl,
		ExpiresAt:    expiresAt.UTC(),
		FilePath:     id,
	}, true
}
