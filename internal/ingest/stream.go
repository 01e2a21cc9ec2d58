// Package ingest stream.go contains the reader plumbing for the single-pass
// upload: a context-aware wrapper and a metering tee that hashes, counts,
// and caps the bytes flowing to the blob store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/haukened/stash/internal/domain"
)

// ctxReader aborts reads once the request context is cancelled, so an
// abandoned upload stops pulling from the client promptly instead of at the
// next I/O error.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// meter tees the stream through a SHA-256 hasher and a byte counter, and
// fails fast with ErrSizeExceeded as soon as the cumulative count passes
// max. Bytes already handed to the consumer in the failing call are still
// valid; the consumer sees the error on that same call and stops.
type meter struct {
	r   io.Reader
	h   hash.Hash
	n   int64
	max int64
}

func newMeter(r io.Reader, max int64) *meter {
	return &meter{r: r, h: sha256.New(), max: max}
}

func (m *meter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.h.Write(p[:n]) // hash.Hash.Write never returns an error
		m.n += int64(n)
		if m.max > 0 && m.n > m.max {
			return n, domain.ErrSizeExceeded
		}
	}
	return n, err
}

// Count returns the bytes seen so far.
func (m *meter) Count() int64 { return m.n }

// SumHex finalizes and returns the lowercase hex SHA-256 digest.
func (m *meter) SumHex() string { return hex.EncodeToString(m.h.Sum(nil)) }

// peekStream reads up to peekSize bytes from r and returns the peeked
// prefix together with a reader that replays the prefix followed by the
// untouched remainder. The stream is consumed exactly once: nothing is
// re-opened, nothing duplicated.
func peekStream(r io.Reader, peekSize int) ([]byte, io.Reader, error) {
	buf := make([]byte, peekSize)
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		// Short input: the whole stream fit inside the peek window.
		return buf[:n], io.MultiReader(newByteReplay(buf[:n])), nil
	default:
		return nil, nil, err
	}
	return buf[:n], io.MultiReader(newByteReplay(buf[:n]), r), nil
}

// byteReplay re-serves an already-read prefix without copying it again.
type byteReplay struct {
	b []byte
}

func newByteReplay(b []byte) *byteReplay { return &byteReplay{b: b} }

func (r *byteReplay) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
