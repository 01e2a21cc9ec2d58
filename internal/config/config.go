// Package config provides layered configuration loading for the stash
// service: struct defaults overlaid by environment variables, then
// validated. Operator-facing names are accepted both bare (MAX_FILE_SIZE_MB)
// and with the STASH_ prefix; the prefixed form wins when both are set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the service-specific environment variables.
const envPrefix = "STASH_"

// sqlitePragmas are appended to every SQLite DSN. WAL for concurrent
// readers, busy timeout so writers queue instead of erroring.
const sqlitePragmas = "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"

// Config holds the merged runtime configuration.
type Config struct {
	Addr            string `koanf:"addr" validate:"ip_port"`
	DataDir         string `koanf:"data_dir" validate:"safe_path"`
	StorageBackend  string `koanf:"storage_backend" validate:"oneof=fs s3"`
	MetadataBackend string `koanf:"metadata_backend" validate:"oneof=badger sqlite blob"`

	MaxFileSizeMB       int64  `koanf:"max_file_size_mb" validate:"gt=0"`
	AllowedMimeTypes    string `koanf:"allowed_mime_types"` // comma separated, empty allows all
	MaxTTLMin           int64  `koanf:"max_ttl_min" validate:"gt=0"`
	CleanupIntervalMins int64  `koanf:"cleanup_interval_mins"` // <=0 disables the reaper loop
	DownloadBaseURL     string `koanf:"download_base_url" validate:"omitempty,http_url"`
	BasePath            string `koanf:"base_path"`

	S3Endpoint        string `koanf:"s3_endpoint" validate:"omitempty,http_url"`
	S3Region          string `koanf:"s3_region"`
	S3Bucket          string `koanf:"s3_bucket" validate:"required_if=StorageBackend s3"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
}

// DefaultAppConfig is the baseline every deployment starts from.
var DefaultAppConfig = Config{
	Addr:                ":8080",
	DataDir:             "./data",
	StorageBackend:      "fs",
	MetadataBackend:     "badger",
	MaxFileSizeMB:       100,
	MaxTTLMin:           44640, // 31 days
	CleanupIntervalMins: 60,
}

// contractualVars are the operator names accepted without the STASH_ prefix.
var contractualVars = map[string]struct{}{
	"MAX_FILE_SIZE_MB":      {},
	"ALLOWED_MIME_TYPES":    {},
	"MAX_TTL_MIN":           {},
	"CLEANUP_INTERVAL_MINS": {},
	"DOWNLOAD_BASE_URL":     {},
	"BASE_PATH":             {},
}

// Loader hooks are package vars so tests can inject failures.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	// Bare contractual names first, then the prefixed namespace so a
	// STASH_-prefixed value always wins.
	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			if _, ok := contractualVars[key]; !ok {
				return "", nil
			}
			return strings.ToLower(key), value
		},
	}), nil); err != nil {
		return err
	}
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("safe_path", validSafePath)
}

// Load builds the effective configuration: defaults, then environment,
// then validation.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, err
	}
	if err := envLoader(k); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, err
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// MaxFileSizeBytes converts the operator-facing megabyte knob to bytes.
func (c *Config) MaxFileSizeBytes() int64 { return c.MaxFileSizeMB << 20 }

// MaxTTL returns the upper TTL bound as a duration.
func (c *Config) MaxTTL() time.Duration { return time.Duration(c.MaxTTLMin) * time.Minute }

// CleanupInterval returns how often the reaper sweeps.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMins) * time.Minute
}

// AllowedMimes splits the comma-separated allow-list; nil means allow all.
func (c *Config) AllowedMimes() []string {
	if strings.TrimSpace(c.AllowedMimeTypes) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedMimeTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BlobDir is where the filesystem blob store keeps its objects.
func (c *Config) BlobDir() string { return joinPath(c.DataDir, "blobs") }

// BadgerDir is where the Badger metadata store lives.
func (c *Config) BadgerDir() string { return joinPath(c.DataDir, "meta") }

// SQLiteDSN builds the DSN for the SQLite metadata variant.
func (c *Config) SQLiteDSN() string {
	return "file:" + joinPath(c.DataDir, "stash.db") + sqlitePragmas
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
