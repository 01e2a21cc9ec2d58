// Package sqlmeta provides a SQLite-backed implementation of the metadata
// store port. Filtering, sorting, and pagination are pushed into SQL;
// expiry is evaluated against the injected clock so reads stay
// deterministic under test.
package sqlmeta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
)

var _ meta.Store = (*Store)(nil)

// Store implements meta.Store using SQLite via database/sql. It is safe for
// concurrent use; database/sql manages connection pooling and serialization.
type Store struct {
	db    *sql.DB
	clock domain.Clock
}

// New constructs a Store, initializing the required schema if absent.
func New(db *sql.DB, clock domain.Clock) (*Store, error) {
	s := &Store{db: db, clock: clock}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `CREATE TABLE IF NOT EXISTS files (
id TEXT PRIMARY KEY,
original_name TEXT NOT NULL,
stored_name TEXT NOT NULL,
mime_type TEXT NOT NULL,
size INTEGER NOT NULL,
hash TEXT NOT NULL,
uploaded_at INTEGER NOT NULL,
ttl INTEGER NOT NULL,
expires_at INTEGER NOT NULL,
file_path TEXT NOT NULL,
metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_files_expires_at ON files(expires_at);
CREATE INDEX IF NOT EXISTS idx_files_uploaded_at ON files(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRecord inserts a new row. Timestamps are stored as unix milliseconds.
func (s *Store) SaveRecord(ctx context.Context, rec *domain.FileRecord) error {
	var metaJSON any
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}
	const q = `INSERT INTO files (id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.OriginalName, rec.StoredName, rec.MimeType, rec.Size, rec.Hash,
		rec.UploadedAt.UnixMilli(), rec.TTLSeconds, rec.ExpiresAt.UnixMilli(), rec.FilePath, metaJSON)
	if err != nil {
		return fmt.Errorf("%w: sqlite insert: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

const recordColumns = `id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata`

// GetRecord fetches a row by id regardless of expiry.
func (s *Store) GetRecord(ctx context.Context, id string) (*domain.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM files WHERE id=?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: sqlite select: %v", domain.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// DeleteRecord removes the row, reporting ErrNotFound when nothing matched.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("%w: sqlite delete: %v", domain.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SearchRecords builds a WHERE clause from the filter and lets SQLite do
// the ordering and pagination. Total is counted with the same predicates.
func (s *Store) SearchRecords(ctx context.Context, f domain.SearchFilter) (*domain.SearchResult, error) {
	where, args := s.whereClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: sqlite count: %v", domain.ErrStoreUnavailable, err)
	}

	q := `SELECT ` + recordColumns + ` FROM files` + where + ` ORDER BY uploaded_at DESC, id ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	} else if f.Offset > 0 {
		q += " LIMIT -1" // SQLite requires LIMIT before OFFSET
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite search: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := make([]domain.FileRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &domain.SearchResult{Records: records, Total: total, Filter: f}, nil
}

func (s *Store) whereClause(f domain.SearchFilter) (string, []any) {
	conds := []string{}
	args := []any{}
	if f.MimeType != "" {
		conds = append(conds, "mime_type = ?")
		args = append(args, f.MimeType)
	}
	if f.MinSize != nil {
		conds = append(conds, "size >= ?")
		args = append(args, *f.MinSize)
	}
	if f.MaxSize != nil {
		conds = append(conds, "size <= ?")
		args = append(args, *f.MaxSize)
	}
	if f.UploadedAfter != nil {
		conds = append(conds, "uploaded_at > ?")
		args = append(args, f.UploadedAfter.UnixMilli())
	}
	if f.UploadedBefore != nil {
		conds = append(conds, "uploaded_at < ?")
		args = append(args, f.UploadedBefore.UnixMilli())
	}
	now := s.clock.Now().UnixMilli()
	if f.ExpiredOnly {
		conds = append(conds, "expires_at <= ?")
	} else {
		conds = append(conds, "expires_at > ?")
	}
	args = append(args, now)
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Stats aggregates the live rows with GROUP BY queries.
func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	now := s.clock.Now().UnixMilli()
	st := &domain.Stats{FilesByMime: map[string]int64{}, FilesByDate: map[string]int64{}}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size),0) FROM files WHERE expires_at > ?`, now)
	if err := row.Scan(&st.TotalFiles, &st.TotalSize); err != nil {
		return nil, fmt.Errorf("%w: sqlite stats: %v", domain.ErrStoreUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT mime_type, COUNT(*) FROM files WHERE expires_at > ? GROUP BY mime_type`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite stats: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var mime string
		var n int64
		if err := rows.Scan(&mime, &n); err != nil {
			return nil, err
		}
		st.FilesByMime[mime] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// uploaded_at is unix millis; bucket by UTC calendar day.
	dateRows, err := s.db.QueryContext(ctx,
		`SELECT date(uploaded_at/1000, 'unixepoch'), COUNT(*) FROM files WHERE expires_at > ? GROUP BY 1`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite stats: %v", domain.ErrStoreUnavailable, err)
	}
	defer dateRows.Close()
	for dateRows.Next() {
		var day string
		var n int64
		if err := dateRows.Scan(&day, &n); err != nil {
			return nil, err
		}
		st.FilesByDate[day] = n
	}
	return st, dateRows.Err()
}

// ListAllIDs returns every row's id, expired or not.
func (s *Store) ListAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM files`)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite list: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Healthy pings the database.
func (s *Store) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: sqlite ping: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*domain.FileRecord, error) {
	var (
		rec        domain.FileRecord
		uploadedMS int64
		expiresMS  int64
		metaJSON   sql.NullString
	)
	err := sc.Scan(&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.MimeType, &rec.Size,
		&rec.Hash, &uploadedMS, &rec.TTLSeconds, &expiresMS, &rec.FilePath, &metaJSON)
	if err != nil {
		return nil, err
	}
	rec.UploadedAt = timeFromMillis(uploadedMS)
	rec.ExpiresAt = timeFromMillis(expiresMS)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
