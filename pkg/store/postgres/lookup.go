package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/graph"
)

// ErrNotFound is returned by LookupNode for an unknown node.
var ErrNotFound = errors.New("not found")

type nodeRow struct {
	Num            int64     `db:"num"`
	LastHeard      time.Time `db:"last_heard"`
	TimeoutSeconds int64     `db:"timeout_seconds"`
}

func (r nodeRow) node() graph.Node {
	return graph.Node{
		Num:             uint32(r.Num),
		LastHeard:       r.LastHeard.UTC(),
		TimeoutDuration: time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

type edgeRow struct {
	Source                   int64        `db:"source"`
	Target                   int64        `db:"target"`
	SNR                      float32      `db:"snr"`
	LastRxTime               sql.NullTime `db:"last_rx_time"`
	BroadcastIntervalSeconds int64        `db:"broadcast_interval_seconds"`
	UpdatedAt                time.Time    `db:"updated_at"`
}

func (r edgeRow) edge() graph.Edge {
	e := graph.Edge{
		Source:            uint32(r.Source),
		Target:            uint32(r.Target),
		SNR:               r.SNR,
		BroadcastInterval: time.Duration(r.BroadcastIntervalSeconds) * time.Second,
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.LastRxTime.Valid {
		e.LastRxTime = r.LastRxTime.Time.UTC()
	}
	return e
}

const lookupNodeQuery = `
	SELECT num, last_heard, timeout_seconds
	FROM mesh_nodes
	WHERE num = $1
`

func (g *Graph) LookupNode(ctx context.Context, num uint32) (graph.Node, error) {
	var row nodeRow
	if err := g.db.GetContext(ctx, &row, lookupNodeQuery, int64(num)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return graph.Node{}, ErrNotFound
		}
		return graph.Node{}, fmt.Errorf("lookup node: %w", err)
	}
	return row.node(), nil
}

// Nodes returns every stored node ordered by number.
func (g *Graph) Nodes(ctx context.Context) ([]graph.Node, error) {
	var rows []nodeRow
	if err := g.db.SelectContext(ctx, &rows, `SELECT num, last_heard, timeout_seconds FROM mesh_nodes ORDER BY num`); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	out := make([]graph.Node, len(rows))
	for i, r := range rows {
		out[i] = r.node()
	}
	return out, nil
}

const edgesFromQuery = `
	SELECT source, target, snr, last_rx_time, broadcast_interval_seconds, updated_at
	FROM mesh_edges
	WHERE source = $1
	ORDER BY target
`

// Edges returns the edges reported by source.
func (g *Graph) Edges(ctx context.Context, source uint32) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := g.db.SelectContext(ctx, &rows, edgesFromQuery, int64(source)); err != nil {
		return nil, fmt.Errorf("edges: %w", err)
	}
	out := make([]graph.Edge, len(rows))
	for i, r := range rows {
		out[i] = r.edge()
	}
	return out, nil
}
