package graph

import (
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// SkipReason explains why an update left the graph untouched, fully or in part.
type SkipReason string

const (
	SkipNone SkipReason = ""
	// SkipMissingPosition: node info without a position is not enough to add
	// or refresh a node.
	SkipMissingPosition SkipReason = "missing_position"
	// SkipUnknownNeighbor: a neighbor report named a node the graph has not
	// seen; no node and no edge were created for it.
	SkipUnknownNeighbor SkipReason = "unknown_neighbor"
)

// Result describes what an update did.
type Result struct {
	Node             uint32     `json:"node"`
	Applied          bool       `json:"applied"`
	Created          bool       `json:"created"`
	Skip             SkipReason `json:"skip,omitempty"`
	Edges            []EdgeKey  `json:"edges,omitempty"`
	UnknownNeighbors []uint32   `json:"unknown_neighbors,omitempty"`
}

// refreshOrCreate returns a copy of the stored node with only LastHeard
// moved to now, or create() with the graph's node timeout when the node is
// unknown.
func (g *MeshGraph) refreshOrCreate(num uint32, now time.Time, create func() Node) (Node, bool) {
	if n, ok := g.nodes[num]; ok {
		n.LastHeard = now
		return n, false
	}
	n := create()
	n.TimeoutDuration = g.timeout
	return n, true
}

// UpdateFromNeighborInfo refreshes the reporting node and records an edge to
// every reported neighbor already in the graph. Unknown neighbors are skipped.
func (g *MeshGraph) UpdateFromNeighborInfo(packet mesh.Packet, info mesh.NeighborInfo) Result {
	g.logger.Info("updating graph from neighbor info", "from", packet.From, "neighbors", len(info.Neighbors))

	now := g.now()
	own, created := g.refreshOrCreate(packet.From, now, func() Node {
		return NodeFromNeighborInfo(packet.From, info, now)
	})
	g.UpsertNode(own)

	res := Result{Node: own.Num, Applied: true, Created: created}
	for _, neighbor := range info.Neighbors {
		remote, ok := g.GetNode(neighbor.NodeID)
		if !ok {
			g.logger.Info("neighbor not in graph, skipping edge",
				"from", own.Num, "neighbor", neighbor.NodeID, "reason", SkipUnknownNeighbor)
			res.UnknownNeighbors = append(res.UnknownNeighbors, neighbor.NodeID)
			continue
		}

		edge := EdgeFromNeighbor(own.Num, neighbor, now)
		g.UpsertEdge(own, remote, edge)
		res.Edges = append(res.Edges, edge.Key())
	}
	if len(res.UnknownNeighbors) > 0 {
		res.Skip = SkipUnknownNeighbor
	}
	return res
}

// UpdateFromNodeInfo refreshes or creates the announced node, but only when
// the announcement carries a position.
func (g *MeshGraph) UpdateFromNodeInfo(info mesh.NodeInfo) Result {
	g.logger.Info("updating graph from node info", "from", info.Num)

	if info.Position == nil {
		g.logger.Info("node info has no position, not adding to graph",
			"from", info.Num, "reason", SkipMissingPosition)
		return Result{Node: info.Num, Skip: SkipMissingPosition}
	}

	now := g.now()
	n, created := g.refreshOrCreate(info.Num, now, func() Node {
		return NewNode(info.Num, now)
	})
	g.UpsertNode(n)
	return Result{Node: n.Num, Applied: true, Created: created}
}

// UpdateFromPosition refreshes or creates the sending node. The position
// itself is not stored.
func (g *MeshGraph) UpdateFromPosition(packet mesh.Packet, _ mesh.Position) Result {
	g.logger.Info("updating graph from position", "from", packet.From)

	now := g.now()
	n, created := g.refreshOrCreate(packet.From, now, func() Node {
		return NewNode(packet.From, now)
	})
	g.UpsertNode(n)
	return Result{Node: n.Num, Applied: true, Created: created}
}
