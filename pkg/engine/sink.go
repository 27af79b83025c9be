package engine

import (
	"context"
	"sync"

	"github.com/rmax-ai/meshgraph/pkg/graph"
)

// Sink receives every change the projection makes to the graph. Sinks are
// mirrors: a failing sink is logged and counted, never fatal.
type Sink interface {
	Name() string
	UpsertNode(ctx context.Context, n graph.Node) error
	UpsertEdge(ctx context.Context, e graph.Edge) error
	RemoveNode(ctx context.Context, num uint32) error
}

// change is what one projection step did, replayed onto sinks after the
// graph lock is released.
type change struct {
	nodes   []graph.Node
	edges   []graph.Edge
	removed []uint32
}

func (c change) empty() bool {
	return len(c.nodes) == 0 && len(c.edges) == 0 && len(c.removed) == 0
}

// publication is a change waiting for its turn to reach the sinks.
type publication struct {
	ticket uint64
	sinks  []Sink
	change change
}

// publisher hands out tickets in mutation order and admits one holder at a
// time, lowest ticket first.
type publisher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newPublisher() *publisher {
	q := &publisher{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *publisher) take() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.next
	q.next++
	return t
}

func (q *publisher) wait(ticket uint64) {
	q.mu.Lock()
	for q.serving != ticket {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *publisher) done() {
	q.mu.Lock()
	q.serving++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// enqueue reserves c's place among sink writes. Callers hold p.mu for
// writing, so tickets follow the order of graph mutations. Every non-nil
// publication must be passed to publish.
func (p *Projection) enqueue(c change) *publication {
	if c.empty() || len(p.sinks) == 0 {
		return nil
	}
	return &publication{ticket: p.pub.take(), sinks: p.sinks, change: c}
}

// publish writes pb to its sinks once every earlier publication is done.
func (p *Projection) publish(ctx context.Context, pb *publication) {
	if pb == nil {
		return
	}
	p.pub.wait(pb.ticket)
	defer p.pub.done()

	c := pb.change
	for _, s := range pb.sinks {
		for _, n := range c.nodes {
			if err := s.UpsertNode(ctx, n); err != nil {
				p.sinkError(s, "upsert_node", err)
			}
		}
		for _, e := range c.edges {
			if err := s.UpsertEdge(ctx, e); err != nil {
				p.sinkError(s, "upsert_edge", err)
			}
		}
		for _, num := range c.removed {
			if err := s.RemoveNode(ctx, num); err != nil {
				p.sinkError(s, "remove_node", err)
			}
		}
	}
}

func (p *Projection) sinkError(s Sink, op string, err error) {
	MeshgraphSinkErrorsTotal.WithLabelValues(s.Name()).Inc()
	p.logger.Warn("Sink write failed", "sink", s.Name(), "op", op, "error", err)
}
