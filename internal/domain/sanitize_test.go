package domain

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"héllo wörld.txt", "héllo_wörld.txt"},
		{"a b  c", "a_b_c"},
		{"../../etc/passwd", "etc_passwd"},
		{"___", "file"},
		{"", "file"},
		{"!!!", "file"},
		{"...", "file"},
		{"snapshot 2025/06/01.png", "snapshot_2025_06_01.png"},
		{"already-ok_name.tar.gz", "already-ok_name.tar.gz"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeName(tc.in), "input %q", tc.in)
	}
}

func TestStoredNameShape(t *testing.T) {
	re := regexp.MustCompile(`^greet_[0-9a-f]{8}\.txt$`)
	got := StoredName("greet.txt")
	assert.True(t, re.MatchString(got), "stored name %q", got)
}

func TestStoredNameNoExtension(t *testing.T) {
	re := regexp.MustCompile(`^README_[0-9a-f]{8}$`)
	assert.True(t, re.MatchString(StoredName("README")))
}

func TestStoredNameEmptyFallsBack(t *testing.T) {
	got := StoredName("!!!")
	assert.True(t, strings.HasPrefix(got, "file_"), "stored name %q", got)
}

func TestStoredNameUnique(t *testing.T) {
	a := StoredName("same.bin")
	b := StoredName("same.bin")
	assert.NotEqual(t, a, b)
}
