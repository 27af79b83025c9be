package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/graph"
)

// Set MESHGRAPH_TEST_PG_DSN (e.g. "host=localhost dbname=postgres password=test
// user=postgres") to run these against a real server.
func setupGraph(t *testing.T) *Graph {
	t.Helper()

	dsn := os.Getenv("MESHGRAPH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MESHGRAPH_TEST_PG_DSN not set")
	}

	db, err := Connect(dsn, false)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	g, err := New(ctx, db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE mesh_edges, mesh_nodes`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestGraph_UpsertAndLookup(t *testing.T) {
	g := setupGraph(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	n := graph.Node{Num: 0xa1b2c3d4, LastHeard: now, TimeoutDuration: 15 * time.Minute}
	if err := g.UpsertNode(ctx, n); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	// An older sighting never moves last_heard backwards.
	older := n
	older.LastHeard = now.Add(-time.Hour)
	if err := g.UpsertNode(ctx, older); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	got, err := g.LookupNode(ctx, n.Num)
	if err != nil {
		t.Fatalf("LookupNode: %v", err)
	}
	if !got.LastHeard.Equal(now) {
		t.Errorf("expected last_heard %v, got %v", now, got.LastHeard)
	}
	if got.TimeoutDuration != 15*time.Minute {
		t.Errorf("expected timeout 15m, got %v", got.TimeoutDuration)
	}

	if _, err := g.LookupNode(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGraph_Edges(t *testing.T) {
	g := setupGraph(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for _, num := range []uint32{1, 2} {
		if err := g.UpsertNode(ctx, graph.NewNode(num, now)); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}

	if err := g.UpsertEdge(ctx, graph.Edge{Source: 1, Target: 3, UpdatedAt: now}); !errors.Is(err, ErrUnknownEdgeNodes) {
		t.Errorf("expected ErrUnknownEdgeNodes, got %v", err)
	}

	e := graph.Edge{Source: 1, Target: 2, SNR: 4.5, UpdatedAt: now.Add(-time.Hour)}
	if err := g.UpsertEdge(ctx, e); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	e.SNR = -2
	if err := g.UpsertEdge(ctx, e); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}

	edges, err := g.Edges(ctx, 1)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(edges) != 1 || edges[0].SNR != -2 {
		t.Fatalf("expected one replaced edge, got %+v", edges)
	}

	removed, err := g.RemoveStaleEdges(ctx, 1, now)
	if err != nil {
		t.Fatalf("RemoveStaleEdges: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 stale edge removed, got %d", removed)
	}

	if err := g.UpsertEdge(ctx, graph.Edge{Source: 2, Target: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if err := g.RemoveNode(ctx, 1); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if edges, _ := g.Edges(ctx, 2); len(edges) != 0 {
		t.Errorf("expected cascade to drop edge 2->1, got %+v", edges)
	}
}
