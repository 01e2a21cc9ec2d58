package config

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, DefaultAppConfig, *cfg)
}

func TestPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("STASH_ADDR", ":9090")
	t.Setenv("STASH_DATA_DIR", "/var/lib/stash")
	t.Setenv("STASH_STORAGE_BACKEND", "s3")
	t.Setenv("STASH_S3_BUCKET", "stash-files")
	t.Setenv("STASH_METADATA_BACKEND", "sqlite")
	t.Setenv("STASH_MAX_FILE_SIZE_MB", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/var/lib/stash", cfg.DataDir)
	assert.Equal(t, "s3", cfg.StorageBackend)
	assert.Equal(t, "stash-files", cfg.S3Bucket)
	assert.Equal(t, "sqlite", cfg.MetadataBackend)
	assert.EqualValues(t, 250, cfg.MaxFileSizeMB)
}

func TestContractualNamesAcceptedUnprefixed(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "42")
	t.Setenv("ALLOWED_MIME_TYPES", "image/png, image/jpeg,")
	t.Setenv("MAX_TTL_MIN", "120")
	t.Setenv("CLEANUP_INTERVAL_MINS", "5")
	t.Setenv("DOWNLOAD_BASE_URL", "https://files.example.com")
	t.Setenv("BASE_PATH", "/stash")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 42, cfg.MaxFileSizeMB)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.AllowedMimes())
	assert.EqualValues(t, 120, cfg.MaxTTLMin)
	assert.EqualValues(t, 5, cfg.CleanupIntervalMins)
	assert.Equal(t, "https://files.example.com", cfg.DownloadBaseURL)
	assert.Equal(t, "/stash", cfg.BasePath)
}

func TestPrefixedWinsOverContractual(t *testing.T) {
	t.Setenv("MAX_FILE_SIZE_MB", "10")
	t.Setenv("STASH_MAX_FILE_SIZE_MB", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 20, cfg.MaxFileSizeMB)
}

func TestUnknownBareVarsIgnored(t *testing.T) {
	t.Setenv("ADDR", ":1")
	t.Setenv("DATA_DIR", "../escape")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultAppConfig.Addr, cfg.Addr)
	assert.Equal(t, DefaultAppConfig.DataDir, cfg.DataDir)
}

func TestCleanupCanBeDisabled(t *testing.T) {
	t.Setenv("CLEANUP_INTERVAL_MINS", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.EqualValues(t, 0, cfg.CleanupIntervalMins)
	assert.Zero(t, cfg.CleanupInterval())
}

func TestValidPaths(t *testing.T) {
	for _, p := range []string{"data", "/var/lib/stash", "./data", "relative/path/to/data"} {
		t.Setenv("STASH_DATA_DIR", p)
		cfg, err := Load()
		require.NoError(t, err, "path %q", p)
		assert.Equal(t, p, cfg.DataDir)
	}
}

func TestInvalidPaths(t *testing.T) {
	for _, p := range []string{"", ".", "/", "//", "../data", "data/..", "data/../../../etc"} {
		t.Setenv("STASH_DATA_DIR", p)
		_, err := Load()
		assert.Error(t, err, "path %q", p)
	}
}

func TestInvalidBackends(t *testing.T) {
	t.Setenv("STASH_STORAGE_BACKEND", "tape")
	_, err := Load()
	assert.Error(t, err)
}

func TestS3RequiresBucket(t *testing.T) {
	t.Setenv("STASH_STORAGE_BACKEND", "s3")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STASH_S3_BUCKET", "stash-files")
	_, err = Load()
	assert.NoError(t, err)
}

func TestValidIPPort(t *testing.T) {
	type sample struct {
		Addr string `validate:"ip_port"`
	}
	v := validator.New()
	require.NoError(t, v.RegisterValidation("ip_port", validIPPort))

	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{name: "empty", addr: "", valid: false},
		{name: "missing_port", addr: "127.0.0.1", valid: false},
		{name: "missing_port_after_colon", addr: "127.0.0.1:", valid: false},
		{name: "just_colon_port", addr: ":8080", valid: true},
		{name: "loopback_ipv4", addr: "127.0.0.1:8080", valid: true},
		{name: "ipv6_loopback", addr: "[::1]:8080", valid: true},
		{name: "unbracketed_ipv6", addr: "::1:8080", valid: false},
		{name: "hostname_not_ip", addr: "localhost:8080", valid: false},
		{name: "non_numeric_port", addr: "127.0.0.1:http", valid: false},
		{name: "port_zero", addr: "127.0.0.1:0", valid: false},
		{name: "port_max_valid", addr: "127.0.0.1:65535", valid: true},
		{name: "port_overflow", addr: "127.0.0.1:65536", valid: false},
		{name: "trailing_space", addr: "127.0.0.1:8080 ", valid: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(&sample{Addr: tc.addr})
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDerivedValues(t *testing.T) {
	cfg := DefaultAppConfig
	assert.EqualValues(t, 100<<20, cfg.MaxFileSizeBytes())
	assert.Equal(t, "./data/blobs", cfg.BlobDir())
	assert.Equal(t, "./data/meta", cfg.BadgerDir())
	assert.Equal(t, "file:./data/stash.db"+sqlitePragmas, cfg.SQLiteDSN())
	assert.Nil(t, cfg.AllowedMimes())

	cfg.DataDir = "/var/lib/stash/"
	assert.Equal(t, "/var/lib/stash/blobs", cfg.BlobDir())
}

func TestLoadDefaultError(t *testing.T) {
	orig := defaultLoader
	t.Cleanup(func() { defaultLoader = orig })
	defaultLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	assert.True(t, errors.Is(err, assert.AnError))
}

func TestLoadEnvError(t *testing.T) {
	orig := envLoader
	t.Cleanup(func() { envLoader = orig })
	envLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	assert.True(t, errors.Is(err, assert.AnError))
}

func TestRegisterValidationFails(t *testing.T) {
	orig := registerValidators
	t.Cleanup(func() { registerValidators = orig })
	registerValidators = func(v *validator.Validate) error {
		assert.NotNil(t, v)
		return assert.AnError
	}
	_, err := Load()
	assert.True(t, errors.Is(err, assert.AnError))
}
