package graph

import (
	"fmt"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// DefaultNodeTimeout is how long a node may stay silent before it is stale.
const DefaultNodeTimeout = 15 * time.Minute

// Node represents one mesh radio participant.
type Node struct {
	Num             uint32        `json:"num"`
	LastHeard       time.Time     `json:"last_heard"`
	TimeoutDuration time.Duration `json:"timeout_duration"`
}

// ExpiresAt returns the instant after which the node is considered stale.
func (n Node) ExpiresAt() time.Time {
	return n.LastHeard.Add(n.TimeoutDuration)
}

// IsStale reports whether the node has not been heard within its timeout.
func (n Node) IsStale(now time.Time) bool {
	return now.After(n.ExpiresAt())
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return mesh.FormatNodeID(n.Num)
}

// EdgeKey identifies an edge. Source is the node that reported the link,
// Target the neighbor it reported.
type EdgeKey struct {
	Source uint32 `json:"source"`
	Target uint32 `json:"target"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s->%s", mesh.FormatNodeID(k.Source), mesh.FormatNodeID(k.Target))
}

// Edge represents a directed link observed in a neighbor report.
type Edge struct {
	Source            uint32        `json:"source"`
	Target            uint32        `json:"target"`
	SNR               float32       `json:"snr"`
	LastRxTime        time.Time     `json:"last_rx_time,omitempty"`
	BroadcastInterval time.Duration `json:"broadcast_interval,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Key returns the identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target}
}

// IsSelfLoop reports whether a node listed itself as a neighbor.
func (e Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}

// NewNode creates a node first heard at now with the default timeout.
func NewNode(num uint32, now time.Time) Node {
	return Node{
		Num:             num,
		LastHeard:       now,
		TimeoutDuration: DefaultNodeTimeout,
	}
}

// NodeFromNeighborInfo materializes the reporting node of a neighbor report.
// A zero payload id falls back to the envelope sender.
//
// The graph looks the reporter up by envelope sender but creates it under the
// payload id. When the two differ, the sender is never found, so every
// delivery builds the payload node afresh and overwrites the stored one with
// a new LastHeard and the graph's node timeout.
func NodeFromNeighborInfo(from uint32, info mesh.NeighborInfo, now time.Time) Node {
	num := info.NodeID
	if num == 0 {
		num = from
	}
	return NewNode(num, now)
}

// EdgeFromNeighbor builds the edge source->neighbor carrying the entry's
// link quality.
func EdgeFromNeighbor(source uint32, n mesh.Neighbor, now time.Time) Edge {
	e := Edge{
		Source:            source,
		Target:            n.NodeID,
		SNR:               n.SNR,
		BroadcastInterval: time.Duration(n.NodeBroadcastIntervalSecs) * time.Second,
		UpdatedAt:         now,
	}
	if n.LastRxTime != 0 {
		e.LastRxTime = time.Unix(int64(n.LastRxTime), 0).UTC()
	}
	return e
}
