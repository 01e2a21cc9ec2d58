// Package domain ttl.go contains TTL bounds and validation.
package domain

import "time"

// MinTTL is the floor for any file's time-to-live. The ceiling is
// configurable (MAX_TTL_MIN) and passed in by the caller.
const MinTTL = 60 * time.Second

// DefaultMaxTTL matches the documented default ceiling of 44640 minutes (31 days).
const DefaultMaxTTL = 44640 * time.Minute

// ValidateTTL checks that ttl lies within [min, max] inclusive. Zero bounds
// fall back to MinTTL / DefaultMaxTTL. Returns ErrTTLInvalid on violation.
func ValidateTTL(ttl, min, max time.Duration) error {
	if min <= 0 {
		min = MinTTL
	}
	if max <= 0 {
		max = DefaultMaxTTL
	}
	if ttl < min || ttl > max {
		return ErrTTLInvalid
	}
	return nil
}
