// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers. The HTTP layer maps
// these onto status codes; stores wrap their backend failures in
// ErrStoreUnavailable so callers never see driver-specific error types.
var (
	ErrInvalidID        = errors.New("invalid file id")
	ErrNotFound         = errors.New("file not found")
	ErrTTLInvalid       = errors.New("ttl invalid")
	ErrSizeExceeded     = errors.New("size exceeded")
	ErrMimeNotAllowed   = errors.New("mime type not allowed")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
)
