package engine

import (
	"context"
	"log/slog"
	"time"
)

// SweepWorker evicts nodes that have not been heard from within their
// timeout. The graph's update paths never remove nodes; this is the only
// place that does.
type SweepWorker struct {
	projection *Projection
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewSweepWorker creates a sweeper. An interval of 0 disables it.
func NewSweepWorker(proj *Projection, interval time.Duration, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{
		projection: proj,
		interval:   interval,
		now:        time.Now,
		logger:     logger,
	}
}

func (w *SweepWorker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("Sweeping disabled")
		return
	}

	w.logger.Info("Starting sweep worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweep worker stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep removes every node stale at the worker's clock and returns how many
// were removed.
func (w *SweepWorker) Sweep(ctx context.Context) int {
	removed := w.projection.RemoveStale(ctx, w.now())
	MeshgraphStaleNodes.Set(float64(len(removed)))
	if len(removed) == 0 {
		return 0
	}

	MeshgraphSweptNodesTotal.Add(float64(len(removed)))
	for _, n := range removed {
		w.logger.Info("Evicted stale node", "node", n.String(), "last_heard", n.LastHeard, "timeout", n.TimeoutDuration)
	}
	return len(removed)
}
