package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// Graph writes the topology as (:MeshNode)-[:HEARS]->(:MeshNode).
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewGraph(driver neo4j.DriverWithContext, database string) *Graph {
	return &Graph{driver: driver, database: database}
}

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j at %s: %w", uri, err)
	}
	return driver, nil
}

func (g *Graph) Name() string { return "neo4j" }

// EnsureSchema creates the uniqueness constraint on node numbers.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	return g.write(ctx, `CREATE CONSTRAINT mesh_node_num IF NOT EXISTS FOR (n:MeshNode) REQUIRE n.num IS UNIQUE`, nil)
}

func (g *Graph) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: g.database})
}

func (g *Graph) write(ctx context.Context, query string, params map[string]interface{}) error {
	session := g.session(ctx, neo4j.AccessModeWrite)
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

func (g *Graph) UpsertNode(ctx context.Context, n graph.Node) error {
	query := `
		MERGE (n:MeshNode {num: $num})
		ON CREATE SET n.timeout_seconds = $timeout_seconds
		SET n.id = $id, n.last_heard = datetime($last_heard)
	`
	params := map[string]interface{}{
		"num":             int64(n.Num),
		"id":              mesh.FormatNodeID(n.Num),
		"timeout_seconds": int64(n.TimeoutDuration / time.Second),
		"last_heard":      n.LastHeard.UTC().Format(time.RFC3339Nano),
	}
	if err := g.write(ctx, query, params); err != nil {
		return fmt.Errorf("failed to upsert node %d: %w", n.Num, err)
	}
	return nil
}

// UpsertEdge merges the HEARS relationship. Endpoints missing from the
// database are left alone and no relationship is written.
func (g *Graph) UpsertEdge(ctx context.Context, e graph.Edge) error {
	query := `
		MATCH (s:MeshNode {num: $source})
		MATCH (t:MeshNode {num: $target})
		MERGE (s)-[r:HEARS]->(t)
		SET r.snr = $snr,
			r.broadcast_interval_seconds = $interval,
			r.updated_at = datetime($updated_at)
	`
	params := map[string]interface{}{
		"source":     int64(e.Source),
		"target":     int64(e.Target),
		"snr":        float64(e.SNR),
		"interval":   int64(e.BroadcastInterval / time.Second),
		"updated_at": e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := g.write(ctx, query, params); err != nil {
		return fmt.Errorf("failed to upsert edge %s: %w", e.Key(), err)
	}
	return nil
}

func (g *Graph) RemoveNode(ctx context.Context, num uint32) error {
	err := g.write(ctx, `MATCH (n:MeshNode {num: $num}) DETACH DELETE n`, map[string]interface{}{"num": int64(num)})
	if err != nil {
		return fmt.Errorf("failed to remove node %d: %w", num, err)
	}
	return nil
}

// Neighbors returns the numbers of the nodes source hears, ordered.
func (g *Graph) Neighbors(ctx context.Context, source uint32) ([]uint32, error) {
	session := g.session(ctx, neo4j.AccessModeRead)
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (:MeshNode {num: $num})-[:HEARS]->(t:MeshNode)
			RETURN t.num AS num ORDER BY num
		`, map[string]interface{}{"num": int64(source)})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		nums := make([]uint32, 0, len(records))
		for _, record := range records {
			v, _ := record.Get("num")
			n, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("unexpected num type %T", v)
			}
			nums = append(nums, uint32(n))
		}
		return nums, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read neighbors of %d: %w", source, err)
	}
	return result.([]uint32), nil
}
