package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rmax-ai/meshgraph/pkg/graph"
)

const nodeUpsertQuery = `
	INSERT INTO mesh_nodes (num, last_heard, timeout_seconds)
	VALUES ($1, $2, $3)
	ON CONFLICT (num) DO UPDATE SET last_heard=GREATEST(mesh_nodes.last_heard, $2)
`

// UpsertNode stores the node. last_heard never moves backwards and the
// timeout recorded at creation is kept.
func (g *Graph) UpsertNode(ctx context.Context, n graph.Node) error {
	_, err := g.db.ExecContext(ctx, nodeUpsertQuery,
		int64(n.Num), n.LastHeard.UTC(), int64(n.TimeoutDuration/time.Second))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

const edgeUpsertQuery = `
	INSERT INTO mesh_edges (source, target, snr, last_rx_time, broadcast_interval_seconds, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (source, target) DO UPDATE SET
		snr=$3, last_rx_time=$4, broadcast_interval_seconds=$5, updated_at=$6
`

func (g *Graph) UpsertEdge(ctx context.Context, e graph.Edge) error {
	var lastRx sql.NullTime
	if !e.LastRxTime.IsZero() {
		lastRx = sql.NullTime{Time: e.LastRxTime.UTC(), Valid: true}
	}

	_, err := g.db.ExecContext(ctx, edgeUpsertQuery,
		int64(e.Source), int64(e.Target), e.SNR, lastRx,
		int64(e.BroadcastInterval/time.Second), e.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnknownEdgeNodes
		}
		return fmt.Errorf("edge upsert: %w", err)
	}
	return nil
}

// RemoveNode deletes the node; its edges go with it through the foreign key.
func (g *Graph) RemoveNode(ctx context.Context, num uint32) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM mesh_nodes WHERE num=$1`, int64(num)); err != nil {
		return fmt.Errorf("remove node: %w", err)
	}
	return nil
}

const edgeRemoveStaleQuery = `
	DELETE FROM mesh_edges
	WHERE source=$1 AND updated_at < $2
`

// RemoveStaleEdges removes edges reported by source that were last updated
// before updatedBefore.
func (g *Graph) RemoveStaleEdges(ctx context.Context, source uint32, updatedBefore time.Time) (int64, error) {
	res, err := g.db.ExecContext(ctx, edgeRemoveStaleQuery, int64(source), updatedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("remove stale edge: %w", err)
	}
	return res.RowsAffected()
}
