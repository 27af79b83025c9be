package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// ErrNoSnapshot is returned by PrunePackets when no snapshot exists yet:
// pruning would make the graph unrecoverable.
var ErrNoSnapshot = errors.New("cannot prune: no snapshots found (create a snapshot first)")

// PacketRecord is one ingested packet as persisted in the packet log.
type PacketRecord struct {
	EventID  string      `json:"event_id"`
	TsIngest time.Time   `json:"ts_ingest"`
	Packet   mesh.Packet `json:"packet"`
}

// PacketFilter narrows ReadPackets/QueryPackets.
type PacketFilter struct {
	Since   time.Time
	From    uint32
	PortNum mesh.PortNum
	Limit   int
}

// Snapshot is a persisted copy of the graph.
type Snapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	SchemaVersion int             `json:"schema_version"`
	TsSnapshot    time.Time       `json:"ts_snapshot"`
	LastIngest    time.Time       `json:"last_ingest"` // ts_ingest of the last packet folded in
	Payload       json.RawMessage `json:"payload"`
}
