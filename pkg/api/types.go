package api

import (
	"time"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// NodeView is the wire form of a graph node
type NodeView struct {
	ID             string    `json:"id"` // !xxxxxxxx
	Num            uint32    `json:"num"`
	LastHeard      time.Time `json:"last_heard"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
	ExpiresAt      time.Time `json:"expires_at"`
	Stale          bool      `json:"stale"`
}

// EdgeView is the wire form of a graph edge
type EdgeView struct {
	Source                   string     `json:"source"`
	Target                   string     `json:"target"`
	SNR                      float32    `json:"snr"`
	LastRxTime               *time.Time `json:"last_rx_time,omitempty"`
	BroadcastIntervalSeconds int64      `json:"broadcast_interval_seconds,omitempty"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// GraphResponse matches the response for GET /v1/graph
type GraphResponse struct {
	Nodes       []NodeView `json:"nodes"`
	Edges       []EdgeView `json:"edges"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// NodeResponse matches the response for GET /v1/nodes/{id}
type NodeResponse struct {
	Node  NodeView   `json:"node"`
	Edges []EdgeView `json:"edges"`
}

// PacketResponse matches the response for POST /v1/packets
type PacketResponse struct {
	EventID string       `json:"event_id"`
	Result  graph.Result `json:"result"`
}

// PruneResponse matches the response for POST /v1/admin/prune
type PruneResponse struct {
	Deleted   int64  `json:"deleted"`
	Retention string `json:"retention"`
}

// HealthResponse matches the response for GET /v1/health
type HealthResponse struct {
	Status     string       `json:"status"`
	Nodes      int          `json:"nodes"`
	Edges      int          `json:"edges"`
	LastPacket *mesh.Packet `json:"last_packet,omitempty"`
}

func nodeView(n graph.Node, now time.Time) NodeView {
	return NodeView{
		ID:             mesh.FormatNodeID(n.Num),
		Num:            n.Num,
		LastHeard:      n.LastHeard.UTC(),
		TimeoutSeconds: int64(n.TimeoutDuration / time.Second),
		ExpiresAt:      n.ExpiresAt().UTC(),
		Stale:          n.IsStale(now),
	}
}

func edgeView(e graph.Edge) EdgeView {
	v := EdgeView{
		Source:                   mesh.FormatNodeID(e.Source),
		Target:                   mesh.FormatNodeID(e.Target),
		SNR:                      e.SNR,
		BroadcastIntervalSeconds: int64(e.BroadcastInterval / time.Second),
		UpdatedAt:                e.UpdatedAt.UTC(),
	}
	if !e.LastRxTime.IsZero() {
		t := e.LastRxTime.UTC()
		v.LastRxTime = &t
	}
	return v
}

func nodeViews(nodes []graph.Node, now time.Time) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeView(n, now))
	}
	return out
}

func edgeViews(edges []graph.Edge) []EdgeView {
	out := make([]EdgeView, 0, len(edges))
	for _, e := range edges {
		out = append(out, edgeView(e))
	}
	return out
}
