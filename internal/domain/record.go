// Package domain holds the core data model for stash: file records, IDs,
// TTL rules, name sanitization, and search filters. It follows a hexagonal
// design: this package declares what the core persists and validates, while
// adapter packages (blob stores, metadata stores, HTTP layer) provide the
// I/O around it. No network, disk, or logging concerns belong here.
package domain

import (
	"fmt"
	"time"
)

// Metadata limits enforced on client-supplied key/value pairs.
const (
	MaxMetadataKeys     = 50
	MaxMetadataKeyLen   = 100
	MaxMetadataValueLen = 1000
)

// Clock abstracts time to enable deterministic testing of TTL / expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// FileRecord is the sole persisted descriptor of an uploaded file. Records
// are immutable after creation; they are destroyed by explicit delete or by
// the reaper once expired.
type FileRecord struct {
	ID           string         `json:"id"`
	OriginalName string         `json:"originalName"`
	StoredName   string         `json:"storedName"`
	MimeType     string         `json:"mimeType"`
	Size         int64          `json:"size"`
	Hash         string         `json:"hash"` // lowercase hex SHA-256 of the stored bytes
	UploadedAt   time.Time      `json:"uploadedAt"`
	TTLSeconds   int64          `json:"ttl"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	FilePath     string         `json:"filePath"` // BlobStore key; equals ID
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the record's expiry has passed at the given instant.
// A record expiring exactly at now counts as expired.
func (r *FileRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// TTL returns the record's time-to-live as a duration.
func (r *FileRecord) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// Normalize rewrites both timestamps to UTC so serialized forms round-trip
// to equal records regardless of the zone the decoder produced.
func (r *FileRecord) Normalize() {
	r.UploadedAt = r.UploadedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
}

// ValidateMetadata enforces the shape limits on client-supplied metadata:
// at most MaxMetadataKeys entries, keys up to MaxMetadataKeyLen chars, and
// values restricted to string (<= MaxMetadataValueLen), number, boolean,
// null, or array-of-string. JSON decoding yields float64 for numbers and
// []any for arrays, so those concrete types are accepted here.
func ValidateMetadata(m map[string]any) error {
	if m == nil {
		return nil
	}
	if len(m) > MaxMetadataKeys {
		return fmt.Errorf("%w: metadata has %d keys, maximum is %d", ErrValidation, len(m), MaxMetadataKeys)
	}
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: metadata key must not be empty", ErrValidation)
		}
		if len(k) > MaxMetadataKeyLen {
			return fmt.Errorf("%w: metadata key %q exceeds %d chars", ErrValidation, k, MaxMetadataKeyLen)
		}
		if err := validateMetadataValue(k, v); err != nil {
			return err
		}
	}
	return nil
}

func validateMetadataValue(key string, v any) error {
	switch val := v.(type) {
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	case string:
		if len(val) > MaxMetadataValueLen {
			return fmt.Errorf("%w: metadata value for %q exceeds %d chars", ErrValidation, key, MaxMetadataValueLen)
		}
		return nil
	case []string:
		for _, s := range val {
			if len(s) > MaxMetadataValueLen {
				return fmt.Errorf("%w: metadata value for %q exceeds %d chars", ErrValidation, key, MaxMetadataValueLen)
			}
		}
		return nil
	case []any:
		for _, elem := range val {
			s, ok := elem.(string)
			if !ok {
				return fmt.Errorf("%w: metadata array for %q may only contain strings", ErrValidation, key)
			}
			if len(s) > MaxMetadataValueLen {
				return fmt.Errorf("%w: metadata value for %q exceeds %d chars", ErrValidation, key, MaxMetadataValueLen)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: metadata value for %q has unsupported type %T", ErrValidation, key, v)
	}
}
