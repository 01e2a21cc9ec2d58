// Package domain id.go contains functions to generate, parse, and validate file IDs
package domain

import "github.com/google/uuid"

// FileID is the canonical identifier for a stored file. New IDs are random
// UUIDv4 values rendered in their usual hyphenated string form, but any
// string of 1..255 chars drawn from [A-Za-z0-9_-] parses, so stores written
// by earlier layouts remain readable.
type FileID string

// NewID generates a fresh random FileID.
func NewID() FileID {
	return FileID(uuid.NewString())
}

// ParseID validates s and returns it as a FileID. It enforces:
// - non-empty, length <= 255
// - only [A-Za-z0-9_-]
// Returns ErrInvalidID on failure.
func ParseID(s string) (FileID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return FileID(s), nil
}

// String returns the string form of the FileID.
func (id FileID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id FileID) Valid() bool { return isValidID(string(id)) }

// isValidID performs validation without allocating errors.
func isValidID(s string) bool {
	if len(s) == 0 || len(s) > 255 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
