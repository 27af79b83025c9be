package graph

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

func TestMeshGraph_UpsertNodeReplaces(t *testing.T) {
	g, _ := newTestGraph()
	now := time.Now().UTC()

	g.UpsertNode(Node{Num: 1, LastHeard: now, TimeoutDuration: time.Minute})
	g.UpsertNode(Node{Num: 1, LastHeard: now.Add(time.Second), TimeoutDuration: time.Hour})

	if g.NodeCount() != 1 {
		t.Fatalf("expected 1 node, got %d", g.NodeCount())
	}
	n, _ := g.GetNode(1)
	if n.TimeoutDuration != time.Hour {
		t.Errorf("expected full replacement, got timeout %v", n.TimeoutDuration)
	}
	if _, ok := g.GetNode(2); ok {
		t.Error("unexpected node 2")
	}
}

func TestMeshGraph_RemoveNodeDropsIncidentEdges(t *testing.T) {
	g, clock := newTestGraph()
	now := clock.Now()
	for _, num := range []uint32{1, 2, 3} {
		g.UpsertNode(NewNode(num, now))
	}
	n1, _ := g.GetNode(1)
	n2, _ := g.GetNode(2)
	n3, _ := g.GetNode(3)
	g.UpsertEdge(n1, n2, Edge{Source: 1, Target: 2})
	g.UpsertEdge(n2, n1, Edge{Source: 2, Target: 1})
	g.UpsertEdge(n2, n3, Edge{Source: 2, Target: 3})

	removed := g.RemoveNode(1)
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed edges, got %v", removed)
	}
	if removed[0] != (EdgeKey{Source: 1, Target: 2}) || removed[1] != (EdgeKey{Source: 2, Target: 1}) {
		t.Errorf("unexpected removed keys %v", removed)
	}
	if g.EdgeCount() != 1 {
		t.Errorf("expected 1 remaining edge, got %d", g.EdgeCount())
	}
	if g.RemoveNode(1) != nil {
		t.Error("removing an absent node should be a no-op")
	}
}

func TestMeshGraph_AtStampsUpdates(t *testing.T) {
	g, clock := newTestGraph()
	heard := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	g.At(heard, func() {
		g.UpdateFromNodeInfo(withPosition(1))
		g.UpdateFromPosition(mesh.Packet{From: 2}, mesh.Position{})
	})
	for _, num := range []uint32{1, 2} {
		if n, _ := g.GetNode(num); !n.LastHeard.Equal(heard) {
			t.Errorf("node %d: expected LastHeard %v, got %v", num, heard, n.LastHeard)
		}
	}

	// The clock is released afterwards, and a zero time leaves it alone.
	g.At(time.Time{}, func() { g.UpdateFromNodeInfo(withPosition(3)) })
	if n, _ := g.GetNode(3); !n.LastHeard.Equal(clock.t) {
		t.Errorf("expected node 3 stamped by the graph clock %v, got %v", clock.t, n.LastHeard)
	}
	if !g.Now().After(heard) {
		t.Error("expected the graph clock to be restored")
	}
}

func TestMeshGraph_StaleNodes(t *testing.T) {
	g, _ := newTestGraph()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	g.UpsertNode(Node{Num: 1, LastHeard: base, TimeoutDuration: 10 * time.Minute})
	g.UpsertNode(Node{Num: 2, LastHeard: base, TimeoutDuration: 30 * time.Minute})

	stale := g.StaleNodes(base.Add(20 * time.Minute))
	if len(stale) != 1 || stale[0].Num != 1 {
		t.Fatalf("expected node 1 stale, got %v", stale)
	}

	// Exactly at the deadline the node is still fresh.
	if len(g.StaleNodes(base.Add(10*time.Minute))) != 0 {
		t.Error("node should not be stale at its deadline")
	}
}

func TestMeshGraph_EnumerationOrder(t *testing.T) {
	g, clock := newTestGraph()
	now := clock.Now()
	for _, num := range []uint32{30, 10, 20} {
		g.UpsertNode(NewNode(num, now))
	}
	n10, _ := g.GetNode(10)
	n20, _ := g.GetNode(20)
	n30, _ := g.GetNode(30)
	g.UpsertEdge(n30, n10, Edge{Source: 30, Target: 10})
	g.UpsertEdge(n10, n30, Edge{Source: 10, Target: 30})
	g.UpsertEdge(n10, n20, Edge{Source: 10, Target: 20})

	nodes := g.Nodes()
	if nodes[0].Num != 10 || nodes[1].Num != 20 || nodes[2].Num != 30 {
		t.Errorf("nodes not sorted: %v", nodes)
	}
	edges := g.Edges()
	want := []EdgeKey{{10, 20}, {10, 30}, {30, 10}}
	for i, e := range edges {
		if e.Key() != want[i] {
			t.Errorf("edge %d: got %v, want %v", i, e.Key(), want[i])
		}
	}
	if from := g.EdgesFrom(10); len(from) != 2 || from[0].Target != 20 {
		t.Errorf("unexpected EdgesFrom(10): %v", from)
	}
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	g, clock := newTestGraph()
	now := clock.Now()
	g.UpsertNode(NewNode(1, now))
	g.UpsertNode(NewNode(2, now))
	n1, _ := g.GetNode(1)
	n2, _ := g.GetNode(2)
	g.UpsertEdge(n1, n2, Edge{Source: 1, Target: 2, SNR: 4})

	data, err := json.Marshal(g.Snapshot())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	// An edge pointing at a node outside the snapshot is dropped.
	snap.Edges = append(snap.Edges, Edge{Source: 1, Target: 99})

	restored, _ := newTestGraph()
	restored.Restore(snap)

	if restored.NodeCount() != 2 || restored.EdgeCount() != 1 {
		t.Fatalf("expected 2 nodes/1 edge, got %d/%d", restored.NodeCount(), restored.EdgeCount())
	}
	e, ok := restored.GetEdge(EdgeKey{Source: 1, Target: 2})
	if !ok || e.SNR != 4 {
		t.Errorf("edge not restored: %+v", e)
	}
	n, _ := restored.GetNode(1)
	if !n.LastHeard.Equal(now) {
		t.Errorf("LastHeard not preserved: %v vs %v", n.LastHeard, now)
	}
}
