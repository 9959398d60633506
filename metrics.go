package memgraph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCommitted  = "committed"
	outcomeAborted    = "aborted"
	outcomeConflicted = "conflicted"
)

type (
	// Metrics holds the Prometheus collectors of one storage instance. Every instance gets its
	// own collectors so side-by-side instances never collide in a registry.
	Metrics struct {
		TransactionsTotal  *prometheus.CounterVec
		ActiveTransactions prometheus.Gauge

		DeltasEmitted prometheus.Counter

		GcRuns              prometheus.Counter
		GcCollectedVersions prometheus.Counter

		VertexCount prometheus.Gauge
		EdgeCount   prometheus.Gauge
	}
)

func newMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_transactions_total",
				Help: "Transactions finalized, by outcome.",
			},
			[]string{"outcome"},
		),
		ActiveTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_active_transactions",
				Help: "Transactions currently active.",
			},
		),
		DeltasEmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_deltas_emitted_total",
				Help: "State deltas handed to the delta sink.",
			},
		),
		GcRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_gc_runs_total",
				Help: "Garbage collection sweeps completed.",
			},
		),
		GcCollectedVersions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "memgraph_gc_collected_versions_total",
				Help: "Record versions reclaimed by the garbage collector.",
			},
		),
		VertexCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_vertices",
				Help: "Entries in the vertex index as of the last sweep.",
			},
		),
		EdgeCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_edges",
				Help: "Entries in the edge index as of the last sweep.",
			},
		),
	}
}
