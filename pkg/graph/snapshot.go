package graph

// Snapshot is a point-in-time copy of the graph, safe to serialize and to
// hand to other goroutines.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Snapshot copies the current nodes and edges.
func (g *MeshGraph) Snapshot() Snapshot {
	return Snapshot{
		Nodes: g.Nodes(),
		Edges: g.Edges(),
	}
}

// Restore replaces the graph contents with snap. Edges whose endpoints are
// missing from snap are dropped so the graph never references absent nodes.
func (g *MeshGraph) Restore(snap Snapshot) {
	g.nodes = make(map[uint32]Node, len(snap.Nodes))
	g.edges = make(map[EdgeKey]Edge, len(snap.Edges))

	for _, n := range snap.Nodes {
		g.nodes[n.Num] = n
	}
	for _, e := range snap.Edges {
		src, ok := g.nodes[e.Source]
		if !ok {
			continue
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			continue
		}
		g.UpsertEdge(src, dst, e)
	}
}

// NodeByNum indexes the snapshot's nodes.
func (s Snapshot) NodeByNum(num uint32) (Node, bool) {
	for _, n := range s.Nodes {
		if n.Num == num {
			return n, true
		}
	}
	return Node{}, false
}
