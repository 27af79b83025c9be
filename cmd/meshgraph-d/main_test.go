package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/engine"
	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

func TestRestore_SnapshotThenReplay(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewStore(filepath.Join(t.TempDir(), "meshgraph.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer st.Close()

	ingest := time.Now().UTC().Add(-time.Hour)
	appendAndApply := func(proj *engine.Projection, num uint32) {
		t.Helper()
		payload, _ := json.Marshal(mesh.NodeInfo{Num: num, Position: &mesh.Position{}})
		ingest = ingest.Add(time.Second)
		rec := &store.PacketRecord{TsIngest: ingest, Packet: mesh.Packet{From: num, PortNum: mesh.PortNodeInfo, Payload: payload}}
		if err := st.AppendPacket(ctx, rec); err != nil {
			t.Fatalf("AppendPacket: %v", err)
		}
		if proj != nil {
			if _, err := proj.Apply(ctx, *rec); err != nil {
				t.Fatalf("Apply: %v", err)
			}
		}
	}

	// Two nodes folded into a snapshot, a third only in the packet log.
	live := engine.NewProjection(graph.NewMeshGraph(graph.WithLogger(logger)), logger)
	appendAndApply(live, 1)
	appendAndApply(live, 2)
	if err := engine.NewSnapshotWorker(st, live, time.Minute, logger).TakeSnapshot(ctx); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	appendAndApply(nil, 3)

	restored := engine.NewProjection(graph.NewMeshGraph(graph.WithLogger(logger)), logger)
	if err := restore(ctx, st, restored, logger); err != nil {
		t.Fatalf("restore: %v", err)
	}

	g := restored.GetGraph()
	if len(g.Nodes) != 3 {
		t.Fatalf("expected 3 nodes after snapshot+replay, got %d", len(g.Nodes))
	}
	if last, ok := restored.LastPacket(); !ok || last.From != 3 {
		t.Errorf("expected only the post-snapshot packet to be replayed, last=%+v", last)
	}
}

func TestRestore_KeepsStaleness(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewStore(filepath.Join(t.TempDir(), "meshgraph.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer st.Close()

	heard := time.Now().Add(-2 * time.Hour)
	payload, _ := json.Marshal(mesh.NodeInfo{Num: 1, Position: &mesh.Position{}})
	rec := &store.PacketRecord{TsIngest: heard, Packet: mesh.Packet{From: 1, PortNum: mesh.PortNodeInfo, Payload: payload}}
	if err := st.AppendPacket(ctx, rec); err != nil {
		t.Fatalf("AppendPacket: %v", err)
	}

	restored := engine.NewProjection(graph.NewMeshGraph(graph.WithLogger(logger)), logger)
	if err := restore(ctx, st, restored, logger); err != nil {
		t.Fatalf("restore: %v", err)
	}

	n, ok := restored.GetNode(1)
	if !ok {
		t.Fatal("expected node 1 after replay")
	}
	if !n.LastHeard.Equal(heard) {
		t.Errorf("expected LastHeard %v from the packet log, got %v", heard, n.LastHeard)
	}
	if !n.IsStale(time.Now()) {
		t.Error("a node last heard two hours ago must still be stale after a restart")
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected JSON warn record, got %q", out)
	}
}
