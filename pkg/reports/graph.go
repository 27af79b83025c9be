package reports

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

// NodeReport lists every node with its liveness evaluated at params.End.
type NodeReport struct {
	graphs GraphSource
}

func NewNodeReport(g GraphSource) *NodeReport {
	return &NodeReport{graphs: g}
}

func (r *NodeReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	at := params.End
	if at.IsZero() {
		at = time.Now()
	}

	b := newCSV("id", "num", "last_heard", "timeout_seconds", "expires_at", "stale")
	for _, n := range r.graphs.GetGraph().Nodes {
		b.row(
			mesh.FormatNodeID(n.Num),
			strconv.FormatUint(uint64(n.Num), 10),
			formatTime(n.LastHeard),
			strconv.FormatInt(int64(n.TimeoutDuration/time.Second), 10),
			formatTime(n.ExpiresAt()),
			strconv.FormatBool(n.IsStale(at)),
		)
	}
	return b.reader()
}

// EdgeReport lists every edge, optionally only those reported by the
// "source" filter.
type EdgeReport struct {
	graphs GraphSource
}

func NewEdgeReport(g GraphSource) *EdgeReport {
	return &EdgeReport{graphs: g}
}

func (r *EdgeReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	source, bySource := filterNum(params, "source")

	b := newCSV("source", "target", "snr", "last_rx_time", "broadcast_interval_seconds", "updated_at")
	for _, e := range r.graphs.GetGraph().Edges {
		if bySource && e.Source != source {
			continue
		}
		b.row(
			mesh.FormatNodeID(e.Source),
			mesh.FormatNodeID(e.Target),
			formatFloat(e.SNR),
			formatTime(e.LastRxTime),
			strconv.FormatInt(int64(e.BroadcastInterval/time.Second), 10),
			formatTime(e.UpdatedAt),
		)
	}
	return b.reader()
}
