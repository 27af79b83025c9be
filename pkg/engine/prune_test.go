package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

func TestPruneWorker(t *testing.T) {
	// 1. Setup Store
	dbPath := filepath.Join(t.TempDir(), "test_prune.db")
	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	w := NewPruneWorker(st, RetentionConfig{Enabled: true, TTL: time.Hour}, discard)

	// 2. Old packets
	oldTime := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < 3; i++ {
		rec := &store.PacketRecord{
			TsIngest: oldTime.Add(time.Duration(i) * time.Second),
			Packet:   mesh.Packet{ID: uint32(i + 1), From: 1, PortNum: mesh.PortPosition},
		}
		if err := st.AppendPacket(ctx, rec); err != nil {
			t.Fatalf("failed to append packet: %v", err)
		}
	}

	// 3. Without a snapshot nothing may be pruned
	if deleted := w.Prune(ctx); deleted != 0 {
		t.Fatalf("expected no pruning before the first snapshot, got %d", deleted)
	}

	// 4. Snapshot covering the first two packets only
	snap := &store.Snapshot{
		SnapshotID:    "snap_1",
		SchemaVersion: SnapshotSchemaVersion,
		TsSnapshot:    time.Now().UTC(),
		LastIngest:    oldTime.Add(time.Second),
		Payload:       []byte("{}"),
	}
	if err := st.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	if deleted := w.Prune(ctx); deleted != 2 {
		t.Errorf("expected 2 packets pruned, got %d", deleted)
	}
	count, err := st.CountPackets(ctx)
	if err != nil {
		t.Fatalf("CountPackets: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 packet left, got %d", count)
	}
}
