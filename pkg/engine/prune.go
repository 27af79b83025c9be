package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/store"
)

// RetentionConfig controls how long raw packets are kept once a snapshot
// covers them.
type RetentionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type PruneWorker struct {
	store    *store.Store
	config   RetentionConfig
	archiver *Archiver
	logger   *slog.Logger
}

func NewPruneWorker(st *store.Store, cfg RetentionConfig, logger *slog.Logger) *PruneWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneWorker{
		store:  st,
		config: cfg,
		logger: logger,
	}
}

// SetArchiver makes Prune archive packets to blob storage instead of
// dropping them.
func (w *PruneWorker) SetArchiver(a *Archiver) {
	w.archiver = a
}

func (w *PruneWorker) Run(ctx context.Context) {
	if !w.config.Enabled || w.config.TTL <= 0 {
		w.logger.Info("Pruning disabled")
		return
	}

	interval := w.config.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}

	w.logger.Info("Starting prune worker", "interval", interval, "ttl", w.config.TTL)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial run
	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Prune worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune deletes (or archives) packets older than the retention window and
// returns how many were removed from the log.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	var (
		deleted int64
		err     error
	)
	if w.archiver != nil {
		var cutoff time.Time
		cutoff, err = w.store.PruneCutoff(ctx, w.config.TTL)
		if err == nil {
			deleted, err = w.archiver.Archive(ctx, cutoff)
		}
	} else {
		deleted, err = w.store.PrunePackets(ctx, w.config.TTL)
	}

	if err != nil {
		// Expected until the first snapshot is written.
		if !errors.Is(err, store.ErrNoSnapshot) {
			w.logger.Error("Prune error", "error", err, "archived", deleted)
		}
		return deleted
	}
	if deleted > 0 {
		w.logger.Info("Pruned packets", "count", deleted, "ttl", w.config.TTL, "archived", w.archiver != nil)
	}
	return deleted
}
