package reports

import (
	"context"
	"io"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/graph"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

type ReportType string

const (
	ReportTypeNodes   ReportType = "nodes"
	ReportTypeEdges   ReportType = "edges"
	ReportTypePackets ReportType = "packets"
)

type ReportParams struct {
	Start   time.Time
	End     time.Time
	Filters map[string]interface{}
}

// GraphSource provides the current topology.
type GraphSource interface {
	GetGraph() graph.Snapshot
}

// PacketSource provides the persisted packet log.
type PacketSource interface {
	QueryPackets(ctx context.Context, filter store.PacketFilter) ([]*store.PacketRecord, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}

func filterNum(params ReportParams, key string) (uint32, bool) {
	v, ok := params.Filters[key].(uint32)
	return v, ok && v != 0
}
