package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/eniz1806/CloudEmu/internal/clock"
)

// TempSweeper removes abandoned temporary blob files.
type TempSweeper interface {
	SweepTemp(olderThan time.Duration, now time.Time) (int, error)
}

// UploadReaper expires multipart uploads.
type UploadReaper interface {
	AbortStaleUploads(ctx context.Context, cutoff time.Time) (int, error)
	PruneFinishedUploads(ctx context.Context, cutoff time.Time) (int, error)
}

// MessagePruner drops queue messages past their retention period.
type MessagePruner interface {
	PruneExpiredMessages(ctx context.Context) (int, error)
}

// Target is one namespace's set of services to maintain.
type Target struct {
	Namespace string
	Uploads   UploadReaper
	Messages  MessagePruner
}

// TargetSource lists the namespaces to maintain on each scan.
type TargetSource func() ([]Target, error)

type Config struct {
	Interval        time.Duration
	TempMaxAge      time.Duration
	MultipartExpiry time.Duration
}

type Worker struct {
	blobs   TempSweeper
	targets TargetSource
	clk     clock.Clock
	cfg     Config
}

func NewWorker(blobs TempSweeper, targets TargetSource, clk clock.Clock, cfg Config) *Worker {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = time.Hour
	}
	if cfg.MultipartExpiry <= 0 {
		cfg.MultipartExpiry = 7 * 24 * time.Hour
	}
	return &Worker{blobs: blobs, targets: targets, clk: clk, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// Run once at startup
	w.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan(ctx)
		}
	}
}

// Report counts what one scan removed.
type Report struct {
	TempFiles       int
	AbortedUploads  int
	PrunedUploads   int
	ExpiredMessages int
}

// Scan runs every maintenance task once. Failures are logged and do not
// stop the remaining tasks.
func (w *Worker) Scan(ctx context.Context) Report {
	var r Report
	now := w.clk.Now()

	if w.blobs != nil {
		n, err := w.blobs.SweepTemp(w.cfg.TempMaxAge, now)
		if err != nil {
			slog.Error("maintenance error sweeping temp files", "error", err)
		}
		r.TempFiles = n
	}

	targets, err := w.targets()
	if err != nil {
		slog.Error("maintenance error listing namespaces", "error", err)
		return r
	}
	cutoff := now.Add(-w.cfg.MultipartExpiry)
	for _, t := range targets {
		if ctx.Err() != nil {
			return r
		}
		if t.Uploads != nil {
			n, err := t.Uploads.AbortStaleUploads(ctx, cutoff)
			if err != nil {
				slog.Error("maintenance error aborting stale uploads", "namespace", t.Namespace, "error", err)
			}
			r.AbortedUploads += n
			n, err = t.Uploads.PruneFinishedUploads(ctx, cutoff)
			if err != nil {
				slog.Error("maintenance error pruning finished uploads", "namespace", t.Namespace, "error", err)
			}
			r.PrunedUploads += n
		}
		if t.Messages != nil {
			n, err := t.Messages.PruneExpiredMessages(ctx)
			if err != nil {
				slog.Error("maintenance error pruning messages", "namespace", t.Namespace, "error", err)
			}
			r.ExpiredMessages += n
		}
	}

	if r != (Report{}) {
		slog.Info("maintenance scan finished", "temp_files", r.TempFiles, "aborted_uploads", r.AbortedUploads,
			"pruned_uploads", r.PrunedUploads, "expired_messages", r.ExpiredMessages)
	}
	return r
}
