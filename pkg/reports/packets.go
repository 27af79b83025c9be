package reports

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

// PacketReport dumps the packet log ingested in [Start, End].
type PacketReport struct {
	packets PacketSource
}

func NewPacketReport(s PacketSource) *PacketReport {
	return &PacketReport{packets: s}
}

func (r *PacketReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	filter := store.PacketFilter{}
	if !params.Start.IsZero() {
		// The store filters strictly after Since; Start is inclusive.
		filter.Since = params.Start.Add(-time.Nanosecond)
	}
	if from, ok := filterNum(params, "from"); ok {
		filter.From = from
	}
	if port, ok := params.Filters["port"].(mesh.PortNum); ok {
		filter.PortNum = port
	}

	records, err := r.packets.QueryPackets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}

	b := newCSV("event_id", "ts_ingest", "packet_id", "from", "to", "port", "rx_snr", "rx_rssi", "hop_limit")
	for _, rec := range records {
		if !params.End.IsZero() && rec.TsIngest.After(params.End) {
			continue
		}
		p := rec.Packet
		b.row(
			rec.EventID,
			rec.TsIngest.UTC().Format(time.RFC3339Nano),
			strconv.FormatUint(uint64(p.ID), 10),
			mesh.FormatNodeID(p.From),
			mesh.FormatNodeID(p.To),
			p.PortNum.String(),
			formatFloat(p.RxSNR),
			strconv.FormatInt(int64(p.RxRSSI), 10),
			strconv.FormatUint(uint64(p.HopLimit), 10),
		)
	}
	return b.reader()
}
