package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

var (
	// ErrUnsupportedPort is returned for packets whose port carries nothing
	// the graph is built from.
	ErrUnsupportedPort = errors.New("unsupported port")
	// ErrInvalidPayload is returned when a payload does not decode into the
	// message its port announces.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrPersist is returned by Ingest when the packet log rejects a packet.
	ErrPersist = errors.New("persist packet")
)

var tracer trace.Tracer = otel.Tracer("github.com/rmax-ai/meshgraph/pkg/engine")

// Projection owns the mesh graph and serializes every access to it.
//
// Lock order is ingestMu before mu. Sink writes happen outside both, in the
// order the mutations that produced them were made.
type Projection struct {
	ingestMu   sync.Mutex
	mu         sync.RWMutex
	graph      *graph.MeshGraph
	sinks      []Sink
	pub        *publisher
	logger     *slog.Logger
	lastPacket *mesh.Packet
	lastIngest time.Time
}

// NewProjection wraps g. A nil logger falls back to slog.Default().
func NewProjection(g *graph.MeshGraph, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		graph:  g,
		pub:    newPublisher(),
		logger: logger,
	}
}

// AddSink registers s to receive every later change.
func (p *Projection) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Decode turns a packet payload into the typed message for its port.
func Decode(pkt mesh.Packet) (interface{}, error) {
	var msg interface{}
	switch pkt.PortNum {
	case mesh.PortNeighborInfo:
		msg = &mesh.NeighborInfo{}
	case mesh.PortNodeInfo:
		msg = &mesh.NodeInfo{}
	case mesh.PortPosition:
		msg = &mesh.Position{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPort, pkt.PortNum)
	}

	if len(pkt.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrInvalidPayload, pkt.PortNum)
	}
	if err := json.Unmarshal(pkt.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, pkt.PortNum, err)
	}
	return msg, nil
}

// PacketAppender persists a packet before it reaches the graph.
type PacketAppender interface {
	AppendPacket(ctx context.Context, rec *store.PacketRecord) error
}

// Ingest stamps pkt with an ingest time, persists it through packets and folds
// it into the graph. Concurrent calls are applied in the order their records
// were appended, and ingest times strictly increase, so a snapshot never
// checkpoints past a packet it does not contain.
//
// Undecodable packets are rejected before anything is written. A failed
// append leaves the graph untouched and wraps ErrPersist.
func (p *Projection) Ingest(ctx context.Context, packets PacketAppender, pkt mesh.Packet) (store.PacketRecord, graph.Result, error) {
	ctx, span := startApplySpan(ctx, pkt)
	defer span.End()

	msg, err := decodeTraced(span, pkt)
	if err != nil {
		return store.PacketRecord{}, graph.Result{}, err
	}

	p.ingestMu.Lock()
	p.mu.RLock()
	ts := p.graph.Now()
	if !ts.After(p.lastIngest) {
		ts = p.lastIngest.Add(time.Nanosecond)
	}
	p.mu.RUnlock()

	rec := store.PacketRecord{TsIngest: ts, Packet: pkt}
	if err := packets.AppendPacket(ctx, &rec); err != nil {
		p.ingestMu.Unlock()
		err = fmt.Errorf("%w: %v", ErrPersist, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, graph.Result{}, err
	}

	p.mu.Lock()
	res, pb := p.mutate(rec, msg)
	p.mu.Unlock()
	p.ingestMu.Unlock()

	recordApply(span, pkt, res)
	p.publish(ctx, pb)
	return rec, res, nil
}

// Apply folds one already persisted packet into the graph and forwards what
// changed to the registered sinks. Updates are stamped with rec.TsIngest; a
// record without one is stamped by the graph clock.
func (p *Projection) Apply(ctx context.Context, rec store.PacketRecord) (graph.Result, error) {
	ctx, span := startApplySpan(ctx, rec.Packet)
	defer span.End()

	msg, err := decodeTraced(span, rec.Packet)
	if err != nil {
		return graph.Result{}, err
	}

	p.mu.Lock()
	if rec.TsIngest.IsZero() {
		rec.TsIngest = p.graph.Now()
	}
	res, pb := p.mutate(rec, msg)
	p.mu.Unlock()

	recordApply(span, rec.Packet, res)
	p.publish(ctx, pb)
	return res, nil
}

// mutate applies a decoded message with the graph clock pinned at the
// record's ingest time. Callers hold p.mu.
func (p *Projection) mutate(rec store.PacketRecord, msg interface{}) (graph.Result, *publication) {
	pkt := rec.Packet
	var res graph.Result
	p.graph.At(rec.TsIngest, func() {
		switch m := msg.(type) {
		case *mesh.NeighborInfo:
			res = p.graph.UpdateFromNeighborInfo(pkt, *m)
		case *mesh.NodeInfo:
			if m.Num == 0 {
				m.Num = pkt.From
			}
			res = p.graph.UpdateFromNodeInfo(*m)
		case *mesh.Position:
			res = p.graph.UpdateFromPosition(pkt, *m)
		}
	})

	var c change
	if res.Applied {
		if n, ok := p.graph.GetNode(res.Node); ok {
			c.nodes = append(c.nodes, n)
		}
		for _, key := range res.Edges {
			if e, ok := p.graph.GetEdge(key); ok {
				c.edges = append(c.edges, e)
				MeshgraphEdgeSNR.WithLabelValues(mesh.FormatNodeID(e.Source), mesh.FormatNodeID(e.Target)).Set(float64(e.SNR))
			}
		}
	}
	p.lastPacket = &pkt
	if rec.TsIngest.After(p.lastIngest) {
		p.lastIngest = rec.TsIngest
	}
	MeshgraphNodes.Set(float64(p.graph.NodeCount()))
	MeshgraphEdges.Set(float64(p.graph.EdgeCount()))
	return res, p.enqueue(c)
}

func startApplySpan(ctx context.Context, pkt mesh.Packet) (context.Context, trace.Span) {
	return tracer.Start(ctx, "meshgraph.apply", trace.WithAttributes(
		attribute.String("mesh.port", pkt.PortNum.String()),
		attribute.String("mesh.from", mesh.FormatNodeID(pkt.From)),
		attribute.Int64("mesh.packet_id", int64(pkt.ID)),
	))
}

func decodeTraced(span trace.Span, pkt mesh.Packet) (interface{}, error) {
	msg, err := Decode(pkt)
	if err != nil {
		MeshgraphPacketsTotal.WithLabelValues(pkt.PortNum.String(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func recordApply(span trace.Span, pkt mesh.Packet, res graph.Result) {
	outcome := "applied"
	if !res.Applied {
		outcome = "skipped"
	}
	MeshgraphPacketsTotal.WithLabelValues(pkt.PortNum.String(), outcome).Inc()
	if res.Skip != graph.SkipNone {
		MeshgraphSkipsTotal.WithLabelValues(string(res.Skip)).Inc()
	}
	span.SetAttributes(
		attribute.Bool("meshgraph.applied", res.Applied),
		attribute.Bool("meshgraph.created", res.Created),
		attribute.Int("meshgraph.edges", len(res.Edges)),
		attribute.String("meshgraph.skip", string(res.Skip)),
	)
}

// Replay applies persisted packets in order. Packets that fail to decode are
// logged and skipped; the count of applied packets is returned.
func (p *Projection) Replay(ctx context.Context, records []*store.PacketRecord) int {
	applied := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, err := p.Apply(ctx, *rec); err != nil {
			p.logger.Warn("Skipping packet during replay", "event_id", rec.EventID, "error", err)
			continue
		}
		applied++
	}
	return applied
}

// RemoveStale evicts every node stale at now, with its edges, and returns
// the evicted nodes.
func (p *Projection) RemoveStale(ctx context.Context, now time.Time) []graph.Node {
	p.mu.Lock()
	stale := p.graph.StaleNodes(now)
	var c change
	for _, n := range stale {
		for _, key := range p.graph.RemoveNode(n.Num) {
			MeshgraphEdgeSNR.DeleteLabelValues(mesh.FormatNodeID(key.Source), mesh.FormatNodeID(key.Target))
		}
		c.removed = append(c.removed, n.Num)
	}
	MeshgraphNodes.Set(float64(p.graph.NodeCount()))
	MeshgraphEdges.Set(float64(p.graph.EdgeCount()))
	pb := p.enqueue(c)
	p.mu.Unlock()

	p.publish(ctx, pb)
	return stale
}

// Sync pushes the whole graph to every sink. Used after a restore so that
// sinks attached at startup agree with the in-memory graph.
func (p *Projection) Sync(ctx context.Context) {
	p.mu.Lock()
	snap := p.graph.Snapshot()
	pb := p.enqueue(change{nodes: snap.Nodes, edges: snap.Edges})
	p.mu.Unlock()

	p.publish(ctx, pb)
}

// Restore replaces the graph with snap, checkpointed at lastIngest.
func (p *Projection) Restore(snap graph.Snapshot, lastIngest time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.graph.Restore(snap)
	p.lastIngest = lastIngest
	MeshgraphNodes.Set(float64(p.graph.NodeCount()))
	MeshgraphEdges.Set(float64(p.graph.EdgeCount()))
}

// GetNode looks up a node by number.
func (p *Projection) GetNode(num uint32) (graph.Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.graph.GetNode(num)
}

// GetGraph returns a copy of the current graph.
func (p *Projection) GetGraph() graph.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.graph.Snapshot()
}

// EdgesFrom returns the edges reported by source.
func (p *Projection) EdgesFrom(source uint32) []graph.Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.graph.EdgesFrom(source)
}

// StaleNodes lists nodes past their timeout at now without removing them.
func (p *Projection) StaleNodes(now time.Time) []graph.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.graph.StaleNodes(now)
}

// LastPacket returns the last packet applied, if any.
func (p *Projection) LastPacket() (mesh.Packet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastPacket == nil {
		return mesh.Packet{}, false
	}
	return *p.lastPacket, true
}

// GetState returns the ingest time of the newest applied packet together
// with a graph copy taken under the same lock.
func (p *Projection) GetState() (time.Time, graph.Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastIngest, p.graph.Snapshot()
}
