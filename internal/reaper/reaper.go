// Package reaper implements background cleanup of expired files and orphan
// blobs. It runs independently from the request path: a ticker drives
// periodic sweeps, the HTTP maintenance endpoint can trigger one on demand,
// and a single-flight gate guarantees the two never overlap.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/stash/internal/blob"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/meta"
	"github.com/haukened/stash/internal/meta/blobmeta"
	"github.com/haukened/stash/internal/metrics"
)

// DefaultBatchSize bounds how many expired records one sweep iteration
// pulls from the metadata store.
const DefaultBatchSize = 1000

// DefaultOrphanGrace is how long a blob without a record is left alone
// before the orphan scan reclaims it. It must comfortably exceed the
// longest plausible upload, since an in-flight ingest is briefly in
// exactly that state.
const DefaultOrphanGrace = 15 * time.Minute

// Config holds tunables for the Reaper.
type Config struct {
	Interval    time.Duration // how often a sweep begins; <=0 means one minute
	BatchSize   int           // expired records per iteration; <=0 means DefaultBatchSize
	OrphanGrace time.Duration // minimum blob age before orphan reclaim; <=0 means DefaultOrphanGrace
	Logger      *slog.Logger  // optional, defaults to slog.Default()
}

// RunStats summarizes one sweep.
type RunStats struct {
	Deleted    int           `json:"deleted"`
	FreedBytes int64         `json:"freedBytes"`
	Orphans    int           `json:"orphans"`
	Duration   time.Duration `json:"-"`
	Skipped    bool          `json:"skipped"`
}

// Reaper owns the cleanup loop.
type Reaper struct {
	blobs   blob.Store
	meta    meta.Store
	clock   domain.Clock
	cfg     Config
	metrics *metrics.Metrics

	running      atomic.Bool
	shuttingDown atomic.Bool
	ticker       *time.Ticker
	stopCh       chan struct{}
	doneCh       chan struct{}
	once         sync.Once
}

// New constructs but does not start a Reaper. m may be nil.
func New(blobs blob.Store, recs meta.Store, clock domain.Clock, m *metrics.Metrics, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = DefaultOrphanGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reaper{
		blobs:   blobs,
		meta:    recs,
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop in a new goroutine.
func (r *Reaper) Start(ctx context.Context) {
	if r.ticker != nil {
		return
	} // already started
	r.ticker = time.NewTicker(r.cfg.Interval)
	go r.loop(ctx)
}

// Stop signals the loop to exit and waits for the current sweep, if any,
// to notice and finish.
func (r *Reaper) Stop() {
	r.shuttingDown.Store(true)
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reaper) loop(ctx context.Context) {
	log := r.cfg.Logger.With("domain", "reaper")
	defer func() {
		r.ticker.Stop()
		close(r.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("reaper stop", "reason", "context_cancel")
			return
		case <-r.stopCh:
			log.Info("reaper stop", "reason", "stop_signal")
			return
		case <-r.ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full sweep: expired records first, orphan blobs
// second. If a sweep is already in flight the call returns immediately with
// Skipped set, it never queues behind the running one. Individual record
// failures are logged and skipped; only a failure that stops the sweep from
// making progress is returned as an error.
func (r *Reaper) RunOnce(ctx context.Context) (RunStats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return RunStats{Skipped: true}, nil
	}
	defer r.running.Store(false)

	start := time.Now()
	log := r.cfg.Logger.With("domain", "reaper", "action", "sweep")
	var stats RunStats

	if err := r.sweepExpired(ctx, log, &stats); err != nil {
		return stats, err
	}
	if err := r.sweepOrphans(ctx, log, &stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.ReaperRunsTotal.Inc()
		r.metrics.ReaperDeletedTotal.Add(float64(stats.Deleted))
		r.metrics.ReaperFreedBytesTotal.Add(float64(stats.FreedBytes))
	}
	log.Info("sweep complete",
		"deleted", stats.Deleted,
		"freed_bytes", stats.FreedBytes,
		"orphans", stats.Orphans,
		"ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}

// sweepExpired drains expired records in batches, deleting blob then record
// for each. Blob-first ordering means a crash mid-pair leaves a record whose
// blob is gone, which the next sweep's record pass retries harmlessly.
func (r *Reaper) sweepExpired(ctx context.Context, log *slog.Logger, stats *RunStats) error {
	filter := domain.SearchFilter{ExpiredOnly: true, Limit: r.cfg.BatchSize}
	for {
		if err := r.interrupted(ctx); err != nil {
			return err
		}
		res, err := r.meta.SearchRecords(ctx, filter)
		if err != nil {
			return fmt.Errorf("expired scan: %w", err)
		}
		if len(res.Records) == 0 {
			return nil
		}
		progress := 0
		for i := range res.Records {
			if err := r.interrupted(ctx); err != nil {
				return err
			}
			rec := &res.Records[i]
			if err := r.blobs.Delete(ctx, rec.FilePath); err != nil {
				log.Error("blob delete", "id", rec.ID, "error", err)
				continue
			}
			if err := r.meta.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Error("record delete", "id", rec.ID, "error", err)
				continue
			}
			stats.Deleted++
			stats.FreedBytes += rec.Size
			progress++
		}
		if progress == 0 {
			// Everything in the batch failed; a retry now would spin.
			return nil
		}
		if len(res.Records) < r.cfg.BatchSize {
			return nil
		}
	}
}

// sweepOrphans diffs blob keys against known record ids and reclaims blobs
// nobody references. Fresh blobs inside the grace window are left alone:
// they are usually an upload whose record has not landed yet.
func (r *Reaper) sweepOrphans(ctx context.Context, log *slog.Logger, stats *RunStats) error {
	keys, err := r.blobs.List(ctx, "")
	if err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	ids, err := r.meta.ListAllIDs(ctx)
	if err != nil {
		return fmt.Errorf("orphan scan: %w", err)
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	now := r.clock.Now()
	for _, key := range keys {
		if err := r.interrupted(ctx); err != nil {
			return err
		}
		// Keys under the metadata prefix are records, not file content.
		if strings.HasPrefix(key, blobmeta.Prefix) {
			continue
		}
		if _, ok := known[key]; ok {
			continue
		}
		if r.withinGrace(ctx, key, now) {
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil {
			log.Error("orphan delete", "key", key, "error", err)
			continue
		}
		log.Warn("orphan reclaimed", "key", key)
		stats.Orphans++
	}
	return nil
}

// withinGrace reports whether the blob's recorded upload time is too recent
// to touch. A blob with no readable timestamp is treated as out of grace.
func (r *Reaper) withinGrace(ctx context.Context, key string, now time.Time) bool {
	um, err := r.blobs.Head(ctx, key)
	if err != nil {
		return false
	}
	ts, err := time.Parse(time.RFC3339Nano, um[blob.MetaUploadedAt])
	if err != nil {
		return false
	}
	return now.Sub(ts) < r.cfg.OrphanGrace
}

func (r *Reaper) interrupted(ctx context.Context) error {
	if r.shuttingDown.Load() {
		return context.Canceled
	}
	return ctx.Err()
}
