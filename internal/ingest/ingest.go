// Package ingest implements the streaming upload pipeline: one pass over
// the client stream that simultaneously size-caps, hashes, sniffs the MIME
// type, writes the blob, and records the descriptor. Any partial
// side-effect is compensated before the call returns, so the caller only
// ever observes "record persisted" or "nothing remains".
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
)

// peekSize is how much of the stream is peeled off for MIME detection.
// mimetype needs at most 3072 bytes; 4 KiB leaves headroom.
const peekSize = 4096

// fallbackMime is used when neither detection nor the client supplies a type.
const fallbackMime = "application/octet-stream"

// UploadedFile is the pipeline input: a finite byte stream plus what the
// client declared about it. DeclaredSize is a hint only; the authoritative
// size is whatever transits the stream.
type UploadedFile struct {
	Name         string
	DeclaredMime string
	DeclaredSize int64 // bytes, or SizeUnknown
	Content      io.Reader
}

// SizeUnknown marks a missing declared size.
const SizeUnknown int64 = -1

// Pipeline orchestrates uploads. All fields are set at construction and
// never mutated; the zero value is not usable.
type Pipeline struct {
	Blobs        blob.Store
	Meta         meta.Store
	Clock        domain.Clock
	Logger       *slog.Logger
	MaxFileSize  int64         // bytes; uploads beyond this fail with ErrSizeExceeded
	MinTTL       time.Duration // zero means domain.MinTTL
	MaxTTL       time.Duration // zero means domain.DefaultMaxTTL
	AllowedMimes []string      // empty allows any type
}

// UploadFile runs the full ingest for one file and returns the persisted
// record. On any failure after the blob was written, the blob is deleted
// best-effort; a failed compensation is logged as a potential orphan for
// the reaper to reconcile.
func (p *Pipeline) UploadFile(ctx context.Context, src UploadedFile, ttl time.Duration, userMeta map[string]any) (*domain.FileRecord, error) {
	log := p.logger()

	if err := domain.ValidateTTL(ttl, p.MinTTL, p.MaxTTL); err != nil {
		return nil, err
	}
	if src.Name == "" {
		return nil, fmt.Errorf("%w: file name must not be empty", domain.ErrValidation)
	}
	if err := domain.ValidateMetadata(userMeta); err != nil {
		return nil, err
	}
	if p.MaxFileSize > 0 && src.DeclaredSize > p.MaxFileSize {
		return nil, domain.ErrSizeExceeded
	}

	id := domain.NewID().String()

	header, rest, err := peekStream(&ctxReader{ctx: ctx, r: src.Content}, peekSize)
	if err != nil {
		return nil, err
	}

	mimeType := p.resolveMime(header, src.DeclaredMime)
	if err := p.checkAllowed(mimeType); err != nil {
		return nil, err
	}

	now := p.Clock.Now().UTC()
	m := newMeter(rest, p.MaxFileSize)
	// uploaded-at travels with the blob so the reaper's orphan scan can
	// tell a fresh in-flight upload from an abandoned one.
	putMeta := blob.UserMeta{
		blob.MetaOriginalName: src.Name,
		blob.MetaMimeType:     mimeType,
		blob.MetaUploadedAt:   now.Format(time.RFC3339Nano),
	}
	if err := p.Blobs.Put(ctx, id, m, mimeType, src.DeclaredSize, putMeta); err != nil {
		// The store guarantees no partial blob survives a failed Put, but a
		// cancelled context may have raced a completed write; delete anyway.
		p.compensate(ctx, id, log)
		if errors.Is(err, domain.ErrSizeExceeded) {
			return nil, domain.ErrSizeExceeded
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: blob write: %v", domain.ErrStoreUnavailable, err)
	}

	size := m.Count()
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		p.compensate(ctx, id, log)
		return nil, domain.ErrSizeExceeded
	}
	if ctx.Err() != nil {
		p.compensate(ctx, id, log)
		return nil, ctx.Err()
	}

	rec := &domain.FileRecord{
		ID:           id,
		OriginalName: src.Name,
		StoredName:   domain.StoredName(src.Name),
		MimeType:     mimeType,
		Size:         size,
		Hash:         m.SumHex(),
		UploadedAt:   now,
		TTLSeconds:   int64(ttl / time.Second),
		ExpiresAt:    now.Add(ttl),
		FilePath:     id,
		Metadata:     userMeta,
	}
	if err := p.Meta.SaveRecord(ctx, rec); err != nil {
		p.compensate(ctx, id, log)
		return nil, fmt.Errorf("%w: metadata write: %v", domain.ErrStoreUnavailable, err)
	}

	log.Info("file ingested", "domain", "ingest", "id", id, "size", size, "mime", mimeType, "ttl_s", rec.TTLSeconds)
	return rec, nil
}

// resolveMime runs content detection over the peeked bytes, falling back to
// the client-declared type, then to application/octet-stream. Parameters on
// the declared type (charset etc.) are stripped.
func (p *Pipeline) resolveMime(header []byte, declared string) string {
	if len(header) > 0 {
		detected := mimetype.Detect(header).String()
		// Strip parameters such as "; charset=utf-8" for stable matching.
		if base, _, err := mime.ParseMediaType(detected); err == nil {
			detected = base
		}
		if detected != fallbackMime {
			return detected
		}
	}
	if declared != "" {
		if base, _, err := mime.ParseMediaType(declared); err == nil {
			return base
		}
	}
	return fallbackMime
}

// checkAllowed enforces the allow-list; empty list allows everything.
func (p *Pipeline) checkAllowed(mimeType string) error {
	if len(p.AllowedMimes) == 0 {
		return nil
	}
	for _, allowed := range p.AllowedMimes {
		if strings.EqualFold(allowed, mimeType) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrMimeNotAllowed, mimeType)
}

// compensate removes the blob written for a failed ingest. Deletion uses a
// detached context so a cancelled request still cleans up after itself.
func (p *Pipeline) compensate(ctx context.Context, id string, log *slog.Logger) {
	if err := p.Blobs.Delete(context.WithoutCancel(ctx), id); err != nil {
		log.Error("potential orphan", "domain", "ingest", "action", "compensate", "id", id, "err", err)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
