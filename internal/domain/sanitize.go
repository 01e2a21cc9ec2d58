// Package domain sanitize.go derives display-safe stored names from
// client-supplied file names.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"strings"
	"unicode"
)

// SanitizeName replaces every rune outside letters, digits, '.', '_' and '-'
// with '_', collapses runs of '_', and trims leading/trailing '_'. An input
// that sanitizes to nothing yields "file".
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		ok := unicode.IsLetter(r) || unicode.IsNumber(r) || r == '.' || r == '_' || r == '-'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	if out == "" || strings.Trim(out, ".") == "" {
		return "file"
	}
	return out
}

// StoredName builds the display name persisted alongside a record: the
// sanitized base name, an underscore, eight random hex chars, and the
// original extension (itself sanitized). The random suffix keeps stored
// names unique even when clients upload the same file name repeatedly.
func StoredName(originalName string) string {
	ext := path.Ext(originalName)
	stem := strings.TrimSuffix(originalName, ext)
	base := SanitizeName(stem)
	if ext != "" {
		ext = "." + SanitizeName(strings.TrimPrefix(ext, "."))
	}
	return base + "_" + randomHex8() + ext
}

// randomHex8 returns 8 lowercase hex chars from a 4-byte random value.
func randomHex8() string {
	var b [4]byte
	_, _ = rand.Read(b[:]) // crypto/rand.Read does not fail on supported platforms
	return hex.EncodeToString(b[:])
}
