package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "meshgraph-store-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := NewStore(filepath.Join(tmpDir, "meshgraph.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}

	return st, func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestNewStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for _, table := range []string{"packets", "snapshots"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("failed to query sqlite_master for %s table: %v", table, err)
		}
		if name != table {
			t.Errorf("expected table %q to exist", table)
		}
	}

	var index string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_packets_ts_ingest'").Scan(&index)
	if err != nil {
		t.Errorf("idx_packets_ts_ingest not found: %v", err)
	}
}

func neighborPacket(t *testing.T, from uint32, neighbors ...uint32) mesh.Packet {
	t.Helper()
	info := mesh.NeighborInfo{NodeID: from}
	for _, n := range neighbors {
		info.Neighbors = append(info.Neighbors, mesh.Neighbor{NodeID: n, SNR: 3})
	}
	payload, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal neighbor info: %v", err)
	}
	return mesh.Packet{ID: from * 100, From: from, PortNum: mesh.PortNeighborInfo, Payload: payload}
}

func TestAppendAndReadPackets(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, from := range []uint32{1, 2, 1} {
		rec := &PacketRecord{
			TsIngest: base.Add(time.Duration(i) * time.Minute),
			Packet:   neighborPacket(t, from, 9),
		}
		if err := store.AppendPacket(ctx, rec); err != nil {
			t.Fatalf("AppendPacket failed: %v", err)
		}
		if rec.EventID == "" {
			t.Error("expected EventID to be generated")
		}
	}

	all, err := store.ReadPackets(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ReadPackets failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(all))
	}
	if !all[0].TsIngest.Equal(base) {
		t.Errorf("expected oldest first, got %v", all[0].TsIngest)
	}

	var info mesh.NeighborInfo
	if err := json.Unmarshal(all[0].Packet.Payload, &info); err != nil {
		t.Fatalf("payload did not survive round trip: %v", err)
	}
	if len(info.Neighbors) != 1 || info.Neighbors[0].NodeID != 9 {
		t.Errorf("unexpected payload %+v", info)
	}

	since, err := store.ReadPackets(ctx, base, 10)
	if err != nil {
		t.Fatalf("ReadPackets(since) failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("expected 2 packets after base, got %d", len(since))
	}

	fromOne, err := store.QueryPackets(ctx, PacketFilter{From: 1, PortNum: mesh.PortNeighborInfo})
	if err != nil {
		t.Fatalf("QueryPackets failed: %v", err)
	}
	if len(fromOne) != 2 {
		t.Errorf("expected 2 packets from node 1, got %d", len(fromOne))
	}

	count, err := store.CountPackets(ctx)
	if err != nil || count != 3 {
		t.Errorf("expected count 3, got %d (%v)", count, err)
	}
}

func TestSnapshots(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	snap, err := store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %v", snap)
	}

	older := &Snapshot{SchemaVersion: 1, TsSnapshot: time.Now().UTC().Add(-time.Minute), Payload: json.RawMessage(`{"nodes":[]}`)}
	newer := &Snapshot{SchemaVersion: 1, TsSnapshot: time.Now().UTC(), LastIngest: time.Now().UTC(), Payload: json.RawMessage(`{"nodes":[{"num":1}]}`)}
	for _, s := range []*Snapshot{older, newer} {
		if err := store.SaveSnapshot(ctx, s); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	latest, err := store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if latest == nil || latest.SnapshotID != newer.SnapshotID {
		t.Fatalf("expected newest snapshot %s, got %+v", newer.SnapshotID, latest)
	}
	if string(latest.Payload) != `{"nodes":[{"num":1}]}` {
		t.Errorf("unexpected payload %s", latest.Payload)
	}
}

func TestPrunePackets(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.PrunePackets(ctx, time.Hour); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	now := time.Now().UTC()
	old := &PacketRecord{TsIngest: now.Add(-3 * time.Hour), Packet: neighborPacket(t, 1)}
	mid := &PacketRecord{TsIngest: now.Add(-2 * time.Hour), Packet: neighborPacket(t, 2)}
	recent := &PacketRecord{TsIngest: now.Add(-time.Minute), Packet: neighborPacket(t, 3)}
	for _, rec := range []*PacketRecord{old, mid, recent} {
		if err := store.AppendPacket(ctx, rec); err != nil {
			t.Fatalf("AppendPacket failed: %v", err)
		}
	}

	// Snapshot only covers the oldest packet: mid must survive even though
	// it is past the retention window.
	if err := store.SaveSnapshot(ctx, &Snapshot{SchemaVersion: 1, LastIngest: old.TsIngest, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	deleted, err := store.PrunePackets(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PrunePackets failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted packet, got %d", deleted)
	}

	left, err := store.CountPackets(ctx)
	if err != nil || left != 2 {
		t.Errorf("expected 2 packets left, got %d (%v)", left, err)
	}
}

func TestReadPacketsBeforeAndDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		rec := &PacketRecord{TsIngest: base.Add(time.Duration(i) * time.Minute), Packet: neighborPacket(t, uint32(i+1))}
		if err := store.AppendPacket(ctx, rec); err != nil {
			t.Fatalf("AppendPacket failed: %v", err)
		}
		ids = append(ids, rec.EventID)
	}

	got, err := store.ReadPacketsBefore(ctx, base.Add(2*time.Minute), 2)
	if err != nil {
		t.Fatalf("ReadPacketsBefore failed: %v", err)
	}
	if len(got) != 2 || got[0].EventID != ids[0] || got[1].EventID != ids[1] {
		t.Fatalf("expected the two oldest packets, got %d", len(got))
	}

	got, err = store.ReadPacketsBefore(ctx, base.Add(2*time.Minute), 10)
	if err != nil || len(got) != 3 {
		t.Fatalf("cutoff should be inclusive: got %d (%v)", len(got), err)
	}

	if err := store.DeletePackets(ctx, ids[:3]); err != nil {
		t.Fatalf("DeletePackets failed: %v", err)
	}
	left, err := store.CountPackets(ctx)
	if err != nil || left != 1 {
		t.Errorf("expected 1 packet left, got %d (%v)", left, err)
	}
	if err := store.DeletePackets(ctx, nil); err != nil {
		t.Errorf("empty delete should be a no-op, got %v", err)
	}
}

func TestPruneCutoff(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.PruneCutoff(ctx, time.Hour); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	covered := time.Now().UTC().Add(-3 * time.Hour)
	if err := store.SaveSnapshot(ctx, &Snapshot{SchemaVersion: 1, LastIngest: covered, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	cutoff, err := store.PruneCutoff(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneCutoff failed: %v", err)
	}
	if !cutoff.Equal(covered) {
		t.Errorf("cutoff should stop at the snapshot: got %v want %v", cutoff, covered)
	}
}
