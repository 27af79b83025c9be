package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MeshgraphPacketsTotal counts packets handed to the projection
	MeshgraphPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgraph_packets_total",
			Help: "Total number of packets applied to the graph",
		},
		[]string{"port", "outcome"},
	)

	// MeshgraphSkipsTotal counts updates that were skipped in whole or in part
	MeshgraphSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgraph_skips_total",
			Help: "Total number of skipped updates by reason",
		},
		[]string{"reason"},
	)

	// MeshgraphNodes tracks the number of known nodes
	MeshgraphNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshgraph_nodes",
			Help: "Number of nodes in the graph",
		},
	)

	// MeshgraphEdges tracks the number of known edges
	MeshgraphEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshgraph_edges",
			Help: "Number of edges in the graph",
		},
	)

	// MeshgraphStaleNodes tracks nodes past their timeout at the last sweep
	MeshgraphStaleNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshgraph_stale_nodes",
			Help: "Number of stale nodes found by the last sweep",
		},
	)

	// MeshgraphSweptNodesTotal counts nodes evicted by the sweeper
	MeshgraphSweptNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshgraph_swept_nodes_total",
			Help: "Total number of stale nodes removed from the graph",
		},
	)

	// MeshgraphEdgeSNR tracks the last reported SNR per edge
	MeshgraphEdgeSNR = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshgraph_edge_snr",
			Help: "Last reported signal to noise ratio of an edge",
		},
		[]string{"source", "target"},
	)

	// MeshgraphArchivedPacketsTotal counts packets moved to the archive
	MeshgraphArchivedPacketsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meshgraph_archived_packets_total",
			Help: "Total number of packets moved to blob storage",
		},
	)

	// MeshgraphSinkErrorsTotal counts failed writes to external sinks
	MeshgraphSinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshgraph_sink_errors_total",
			Help: "Total number of failed sink writes",
		},
		[]string{"sink"},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(MeshgraphPacketsTotal)
	prometheus.MustRegister(MeshgraphSkipsTotal)
	prometheus.MustRegister(MeshgraphNodes)
	prometheus.MustRegister(MeshgraphEdges)
	prometheus.MustRegister(MeshgraphStaleNodes)
	prometheus.MustRegister(MeshgraphSweptNodesTotal)
	prometheus.MustRegister(MeshgraphEdgeSNR)
	prometheus.MustRegister(MeshgraphArchivedPacketsTotal)
	prometheus.MustRegister(MeshgraphSinkErrorsTotal)
}
