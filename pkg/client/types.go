package client

import (
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// Node is a mesh node as reported by the daemon.
type Node struct {
	// ID is the display form, e.g. "!a1b2c3d4".
	ID             string    `json:"id"`
	Num            uint32    `json:"num"`
	LastHeard      time.Time `json:"last_heard"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
	ExpiresAt      time.Time `json:"expires_at"`
	// Stale is evaluated by the daemon at response time.
	Stale bool `json:"stale"`
}

// Edge is a directed link: Source heard Target.
type Edge struct {
	Source                   string     `json:"source"`
	Target                   string     `json:"target"`
	SNR                      float32    `json:"snr"`
	LastRxTime               *time.Time `json:"last_rx_time,omitempty"`
	BroadcastIntervalSeconds int64      `json:"broadcast_interval_seconds,omitempty"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// Graph is the full topology.
type Graph struct {
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NodeDetail is one node with the edges it reported.
type NodeDetail struct {
	Node  Node   `json:"node"`
	Edges []Edge `json:"edges"`
}

// EdgeKey names an edge in an update result.
type EdgeKey struct {
	Source uint32 `json:"source"`
	Target uint32 `json:"target"`
}

// UpdateResult describes what one packet did to the graph.
type UpdateResult struct {
	Node    uint32 `json:"node"`
	Applied bool   `json:"applied"`
	Created bool   `json:"created"`
	// Skip is "missing_position" or "unknown_neighbor" when (part of) the
	// update was dropped.
	Skip             string    `json:"skip,omitempty"`
	Edges            []EdgeKey `json:"edges,omitempty"`
	UnknownNeighbors []uint32  `json:"unknown_neighbors,omitempty"`
}

// IngestResponse is returned by SendPacket.
type IngestResponse struct {
	EventID string       `json:"event_id"`
	Result  UpdateResult `json:"result"`
}

// Status represents the health check response.
type Status struct {
	Status     string       `json:"status"`
	Nodes      int          `json:"nodes"`
	Edges      int          `json:"edges"`
	LastPacket *mesh.Packet `json:"last_packet,omitempty"`
}
