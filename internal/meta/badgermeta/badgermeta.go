// Package badgermeta implements the metadata store port on BadgerDB.
//
// Record entries are keyed "file:<id>" and carry a native backend TTL of
// max(60s, expiresAt-now), so Badger evicts stale entries on its own and a
// record is unreadable from the moment it expires. An expired-only search
// therefore usually returns nothing here; reclaiming the blob bytes of
// evicted records falls to the reaper's orphan scan. A "hash:<hash>" index
// entry is written alongside each record to keep same-content lookups cheap.
package badgermeta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
)

const (
	filePrefix = "file:"
	hashPrefix = "hash:"
)

var _ meta.Store = (*Store)(nil)

// Store implements meta.Store on a Badger database.
type Store struct {
	db    *badger.DB
	clock domain.Clock
}

// Open opens (or creates) a Badger database at path.
func Open(path string, clock domain.Clock) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgermeta: open %s: %w", path, err)
	}
	return &Store{db: db, clock: clock}, nil
}

// OpenInMemory opens a throwaway in-memory database. Used by tests.
func OpenInMemory(clock domain.Clock) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func keyFile(id string) []byte   { return []byte(filePrefix + id) }
func keyHash(hash string) []byte { return []byte(hashPrefix + hash) }

// SaveRecord writes the record and its hash index entry, both with a
// backend TTL clamped to at least 60s.
func (s *Store) SaveRecord(_ context.Context, rec *domain.FileRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := rec.ExpiresAt.Sub(s.clock.Now())
	if ttl < time.Minute {
		ttl = time.Minute
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(keyFile(rec.ID), val).WithTTL(ttl)); err != nil {
			return err
		}
		if rec.Hash != "" {
			if err := txn.SetEntry(badger.NewEntry(keyHash(rec.Hash), []byte(rec.ID)).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: badger save: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// GetRecord fetches a record by id. Badger hides TTL-expired entries, so an
// expired record reads as absent here.
func (s *Store) GetRecord(_ context.Context, id string) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFile(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: badger get: %v", domain.ErrStoreUnavailable, err)
	}
	rec.Normalize()
	return &rec, nil
}

// DeleteRecord removes the record and its hash index entry.
func (s *Store) DeleteRecord(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFile(id))
		if err != nil {
			return err
		}
		var rec domain.FileRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			return err
		}
		if rec.Hash != "" {
			if err := txn.Delete(keyHash(rec.Hash)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(keyFile(id))
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: badger delete: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// SearchRecords walks the file: prefix with a paginating iterator, decodes
// each record, and filters in memory.
func (s *Store) SearchRecords(_ context.Context, f domain.SearchFilter) (*domain.SearchResult, error) {
	recs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	return meta.ApplyFilter(recs, f, s.clock.Now()), nil
}

// Stats aggregates over the live records.
func (s *Store) Stats(_ context.Context) (*domain.Stats, error) {
	recs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	return meta.Aggregate(recs, s.clock.Now()), nil
}

// ListAllIDs iterates keys only (no value prefetch).
func (s *Store) ListAllIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(filePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), filePrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: badger list: %v", domain.ErrStoreUnavailable, err)
	}
	return ids, nil
}

// IDForHash resolves the hash index entry, if one survives. Dedup itself is
// out of scope; this only exposes the lookup.
func (s *Store) IDForHash(_ context.Context, hash string) (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHash(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("%w: badger hash lookup: %v", domain.ErrStoreUnavailable, err)
	}
	return id, nil
}

// Healthy reports whether the database is open.
func (s *Store) Healthy(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger database closed", domain.ErrStoreUnavailable)
	}
	return nil
}

// loadAll decodes every file: entry. The iterator prefetches values in
// batches, so memory stays bounded by the prefetch window plus the decoded
// result set rather than the raw keyspace.
func (s *Store) loadAll() ([]domain.FileRecord, error) {
	var recs []domain.FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(filePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec domain.FileRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			rec.Normalize()
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: badger scan: %v", domain.ErrStoreUnavailable, err)
	}
	return recs, nil
}
