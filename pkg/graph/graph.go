package graph

import (
	"log/slog"
	"sort"
	"time"
)

// MeshGraph is the live topology of the mesh: nodes keyed by number and
// directed edges keyed by (source, target).
//
// MeshGraph does no locking. Callers must serialize access to an instance.
type MeshGraph struct {
	nodes   map[uint32]Node
	edges   map[EdgeKey]Edge
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a MeshGraph.
type Option func(*MeshGraph)

// WithClock overrides the time source used to stamp LastHeard.
func WithClock(now func() time.Time) Option {
	return func(g *MeshGraph) {
		if now != nil {
			g.now = now
		}
	}
}

// WithNodeTimeout sets the timeout given to newly created nodes. Existing
// nodes keep theirs.
func WithNodeTimeout(d time.Duration) Option {
	return func(g *MeshGraph) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used to report skipped updates.
func WithLogger(l *slog.Logger) Option {
	return func(g *MeshGraph) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewMeshGraph creates an empty graph.
func NewMeshGraph(opts ...Option) *MeshGraph {
	g := &MeshGraph{
		nodes:   make(map[uint32]Node),
		edges:   make(map[EdgeKey]Edge),
		now:     time.Now,
		timeout: DefaultNodeTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GetNode looks up a node by number.
func (g *MeshGraph) GetNode(num uint32) (Node, bool) {
	n, ok := g.nodes[num]
	return n, ok
}

// UpsertNode inserts the node or replaces the stored value entirely.
func (g *MeshGraph) UpsertNode(n Node) {
	g.nodes[n.Num] = n
}

// GetEdge looks up an edge by key.
func (g *MeshGraph) GetEdge(key EdgeKey) (Edge, bool) {
	e, ok := g.edges[key]
	return e, ok
}

// UpsertEdge inserts or replaces the edge identified by e.Key(). The source
// and target nodes must already be in the graph.
func (g *MeshGraph) UpsertEdge(source, target Node, e Edge) {
	if e.Source != source.Num || e.Target != target.Num {
		g.logger.Warn("edge endpoints disagree with nodes",
			"edge", e.Key().String(), "source", source.Num, "target", target.Num)
	}
	g.edges[e.Key()] = e
}

// RemoveNode deletes a node and every edge touching it. It returns the keys
// of the removed edges. The update paths never call this.
func (g *MeshGraph) RemoveNode(num uint32) []EdgeKey {
	if _, ok := g.nodes[num]; !ok {
		return nil
	}
	delete(g.nodes, num)

	var removed []EdgeKey
	for key := range g.edges {
		if key.Source == num || key.Target == num {
			delete(g.edges, key)
			removed = append(removed, key)
		}
	}
	sortKeys(removed)
	return removed
}

// Nodes returns every node ordered by number.
func (g *MeshGraph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Edges returns every edge ordered by (source, target).
func (g *MeshGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key(), out[j].Key()) })
	return out
}

// EdgesFrom returns the edges reported by source.
func (g *MeshGraph) EdgesFrom(source uint32) []Edge {
	var out []Edge
	for key, e := range g.edges {
		if key.Source == source {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// StaleNodes returns the nodes whose timeout elapsed before now.
func (g *MeshGraph) StaleNodes(now time.Time) []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if n.IsStale(now) {
			out = append(out, n)
		}
	}
	return out
}

// NodeCount reports how many nodes the graph holds.
func (g *MeshGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount reports how many edges the graph holds.
func (g *MeshGraph) EdgeCount() int { return len(g.edges) }

// Now reads the clock updates are stamped with.
func (g *MeshGraph) Now() time.Time { return g.now() }

// At runs fn with the clock fixed at t, so every update fn makes is stamped
// with t. A zero t leaves the clock alone.
func (g *MeshGraph) At(t time.Time, fn func()) {
	if t.IsZero() {
		fn()
		return
	}
	prev := g.now
	g.now = func() time.Time { return t }
	defer func() { g.now = prev }()
	fn()
}

func keyLess(a, b EdgeKey) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Target < b.Target
}

func sortKeys(keys []EdgeKey) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}
