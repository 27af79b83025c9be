package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

// SnapshotSchemaVersion is bumped whenever SnapshotPayload changes shape.
const SnapshotSchemaVersion = 1

// SnapshotPayload defines the structure of the JSON blob stored in snapshots
type SnapshotPayload struct {
	Graph graph.Snapshot `json:"graph"`
}

// SnapshotWorker periodically persists the graph to the store
type SnapshotWorker struct {
	store      *store.Store
	projection *Projection
	interval   time.Duration
	logger     *slog.Logger
}

// NewSnapshotWorker creates a new worker
func NewSnapshotWorker(st *store.Store, proj *Projection, interval time.Duration, logger *slog.Logger) *SnapshotWorker {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWorker{
		store:      st,
		projection: proj,
		interval:   interval,
		logger:     logger,
	}
}

// Run starts the snapshot loop
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot_worker_started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("snapshot_worker_stopped")
			return
		case <-ticker.C:
			if err := w.TakeSnapshot(ctx); err != nil {
				w.logger.Error("snapshot_failed", "error", err)
			} else {
				w.logger.Info("snapshot_created")
			}
		}
	}
}

// TakeSnapshot captures the current graph and saves it to the store
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) error {
	lastIngest, snap := w.projection.GetState()
	if lastIngest.IsZero() {
		return fmt.Errorf("cannot snapshot: no packets applied yet")
	}

	payloadJSON, err := json.Marshal(SnapshotPayload{Graph: snap})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	now := time.Now().UTC()
	rec := &store.Snapshot{
		SnapshotID:    fmt.Sprintf("snap_%d", now.UnixNano()),
		SchemaVersion: SnapshotSchemaVersion,
		TsSnapshot:    now,
		LastIngest:    lastIngest,
		Payload:       payloadJSON,
	}

	if err := w.store.SaveSnapshot(ctx, rec); err != nil {
		return fmt.Errorf("store save failed: %w", err)
	}

	return nil
}

// LoadLatestSnapshot attempts to load the latest snapshot from the store.
// If successful, it restores the projection and returns the ingestion time of
// the last packet folded into it. If no snapshot exists, it returns a zero
// time (indicating full replay is needed).
func LoadLatestSnapshot(ctx context.Context, st *store.Store, proj *Projection) (time.Time, error) {
	snap, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if snap == nil {
		return time.Time{}, nil
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return time.Time{}, fmt.Errorf("snapshot %s has schema version %d, want %d", snap.SnapshotID, snap.SchemaVersion, SnapshotSchemaVersion)
	}

	var payload SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}

	proj.Restore(payload.Graph, snap.LastIngest)
	return snap.LastIngest, nil
}
