package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

func TestSnapshotWorker_TakeAndLoad(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "meshgraph.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	proj, clock := newTestProjection(t)
	worker := NewSnapshotWorker(st, proj, 0, discard)

	// Nothing applied yet: nothing to checkpoint.
	if err := worker.TakeSnapshot(ctx); err == nil {
		t.Fatal("expected TakeSnapshot to refuse an empty projection")
	}

	for _, num := range []uint32{1, 2} {
		if _, err := proj.Apply(ctx, nodeInfo(t, num)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	last := packet(t, 1, mesh.PortNeighborInfo, mesh.NeighborInfo{
		NodeID: 1, Neighbors: []mesh.Neighbor{{NodeID: 2, SNR: 3}},
	})
	if _, err := proj.Apply(ctx, last); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if err := worker.TakeSnapshot(ctx); err != nil {
		t.Fatalf("TakeSnapshot failed: %v", err)
	}

	snap, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Snapshot not found")
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		t.Errorf("expected schema version %d, got %d", SnapshotSchemaVersion, snap.SchemaVersion)
	}

	// Restore into a fresh projection.
	restored, _ := newTestProjection(t)
	checkpoint, err := LoadLatestSnapshot(ctx, st, restored)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if !checkpoint.Equal(clock.t) {
		t.Errorf("expected checkpoint %v, got %v", clock.t, checkpoint)
	}

	g := restored.GetGraph()
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d/%d", len(g.Nodes), len(g.Edges))
	}
	if g.Edges[0].Key() != (graph.EdgeKey{Source: 1, Target: 2}) || g.Edges[0].SNR != 3 {
		t.Errorf("unexpected restored edge %+v", g.Edges[0])
	}
}

func TestLoadLatestSnapshot_NoSnapshot(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "meshgraph.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	proj, _ := newTestProjection(t)
	checkpoint, err := LoadLatestSnapshot(context.Background(), st, proj)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot: %v", err)
	}
	if !checkpoint.IsZero() {
		t.Errorf("expected zero checkpoint, got %v", checkpoint)
	}
}
