package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
func NewReportGenerator(reportType ReportType, graphs GraphSource, packets PacketSource) (Generator, error) {
	switch reportType {
	case ReportTypeNodes:
		if graphs == nil {
			return nil, fmt.Errorf("report %s needs a graph", reportType)
		}
		return NewNodeReport(graphs), nil
	case ReportTypeEdges:
		if graphs == nil {
			return nil, fmt.Errorf("report %s needs a graph", reportType)
		}
		return NewEdgeReport(graphs), nil
	case ReportTypePackets:
		if packets == nil {
			return nil, fmt.Errorf("report %s needs a packet store", reportType)
		}
		return NewPacketReport(packets), nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
