// Package main provides the stash binary entry point: a temporary file
// storage service over HTTP.
//
// The application flow:
//  1. Load and validate configuration from the environment.
//  2. Open the configured blob store (filesystem or S3) and metadata store
//     (Badger, SQLite, or blob-encoded).
//  3. Wire the ingest pipeline, catalog, reaper, and HTTP handler.
//  4. Serve until SIGINT/SIGTERM, then drain connections and stop the
//     reaper before exiting.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/blob/fsblob"
	"github.com/haukened/stash/internal/blob/s3blob"
	"github.com/haukened/stash/internal/catalog"
	"github.com/haukened/stash/internal/config"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/fetch"
	"github.com/haukened/stash/internal/httpx"
	"github.com/haukened/stash/internal/ingest"
	"github.com/haukened/stash/internal/meta"
	"github.com/haukened/stash/internal/meta/badgermeta"
	"github.com/haukened/stash/internal/meta/blobmeta"
	"github.com/haukened/stash/internal/meta/sqlmeta"
	"github.com/haukened/stash/internal/metrics"
	"github.com/haukened/stash/internal/reaper"
)

// shutdownGrace is how long in-flight requests get to finish on shutdown.
const shutdownGrace = 15 * time.Second

// realClock implements domain.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	return cfg
}

func ensureDir(dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Error("create directory", "dir", dir, "err", err)
		os.Exit(3)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) blob.Store {
	switch cfg.StorageBackend {
	case "s3":
		s, err := s3blob.NewFromConfig(ctx, s3blob.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			slog.Error("init s3 blob store", "err", err)
			os.Exit(4)
		}
		return s
	default:
		ensureDir(cfg.BlobDir())
		s, err := fsblob.New(cfg.BlobDir())
		if err != nil {
			slog.Error("init filesystem blob store", "err", err)
			os.Exit(4)
		}
		return s
	}
}

// openMetaStore returns the metadata store and a close func for backends
// that hold resources.
func openMetaStore(cfg *config.Config, blobs blob.Store, clock domain.Clock) (meta.Store, func() error) {
	switch cfg.MetadataBackend {
	case "sqlite":
		ensureDir(cfg.DataDir)
		db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
		if err != nil {
			slog.Error("open sqlite", "err", err)
			os.Exit(5)
		}
		st, err := sqlmeta.New(db, clock)
		if err != nil {
			slog.Error("init sqlite schema", "err", err)
			os.Exit(5)
		}
		return st, db.Close
	case "blob":
		return blobmeta.New(blobs, clock), func() error { return nil }
	default:
		ensureDir(cfg.BadgerDir())
		st, err := badgermeta.Open(cfg.BadgerDir(), clock)
		if err != nil {
			slog.Error("open badger", "err", err)
			os.Exit(5)
		}
		return st, st.Close
	}
}

func run() error {
	cfg := loadConfig()
	clock := realClock{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs := openBlobStore(ctx, cfg)
	recs, closeMeta := openMetaStore(cfg, blobs, clock)
	defer func() { _ = closeMeta() }()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	pipeline := &ingest.Pipeline{
		Blobs:        blobs,
		Meta:         recs,
		Clock:        clock,
		MaxFileSize:  cfg.MaxFileSizeBytes(),
		MaxTTL:       cfg.MaxTTL(),
		AllowedMimes: cfg.AllowedMimes(),
	}
	cat := &catalog.Service{Blobs: blobs, Meta: recs, Clock: clock, Metrics: m}
	sweeper := reaper.New(blobs, recs, clock, m, reaper.Config{Interval: cfg.CleanupInterval()})

	handler := &httpx.Handler{
		Uploads:         pipeline,
		Catalog:         cat,
		Sweeper:         sweeper,
		Fetcher:         fetch.New(cfg.MaxFileSizeBytes()),
		Clock:           clock,
		Metrics:         m,
		Gatherer:        reg,
		BasePath:        cfg.BasePath,
		DownloadBaseURL: cfg.DownloadBaseURL,
		MaxBody:         cfg.MaxFileSizeBytes(),
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler.Router(),
		ReadTimeout: 5 * time.Minute, // uploads can be slow
		IdleTimeout: 120 * time.Second,
	}

	if cfg.CleanupInterval() > 0 {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	} else {
		slog.Info("periodic cleanup disabled", "cleanup_interval_mins", cfg.CleanupIntervalMins)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Addr,
			"storage", cfg.StorageBackend,
			"metadata", cfg.MetadataBackend,
			"pid", os.Getpid(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
