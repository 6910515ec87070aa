// Package metrics holds the runtime's internal-only Prometheus
// collectors. There is no exporter surface here (none is in scope);
// components register against a Registry so a future collaborator can
// mount /metrics without this package knowing about HTTP at all.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the runtime's components touch.
type Registry struct {
	Registerer prometheus.Registerer

	EmitLatency     prometheus.Histogram
	FilterMatches   prometheus.Counter
	FilterMisses    prometheus.Counter
	GridQueries     prometheus.Counter
	ArbiterDecision *prometheus.CounterVec
	LogWrites       *prometheus.CounterVec
	QuotaRejections *prometheus.CounterVec
}

// New constructs and registers all collectors against reg. Pass
// prometheus.NewRegistry() for test isolation or prometheus.DefaultRegisterer
// for process-wide collection.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Registerer: reg,
		EmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coreruntime_emit_latency_seconds",
			Help:    "Latency of SignalSystem.Emit from call to subscriber dispatch completion.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		FilterMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreruntime_filter_matches_total",
			Help: "SubscriptionFilter evaluations that matched.",
		}),
		FilterMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreruntime_filter_misses_total",
			Help: "SubscriptionFilter evaluations that did not match.",
		}),
		GridQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreruntime_spatial_queries_total",
			Help: "SpatialIndex neighbor/range queries served.",
		}),
		ArbiterDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreruntime_arbiter_decisions_total",
			Help: "Arbiter decisions by pathway.",
		}, []string{"pathway"}),
		LogWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreruntime_log_writes_total",
			Help: "Append-only log writes by entry type and mode.",
		}, []string{"entry_type", "mode"}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreruntime_quota_rejections_total",
			Help: "Guardian quota rejections by resource.",
		}, []string{"resource"}),
	}

	reg.MustRegister(
		m.EmitLatency,
		m.FilterMatches,
		m.FilterMisses,
		m.GridQueries,
		m.ArbiterDecision,
		m.LogWrites,
		m.QuotaRejections,
	)

	return m
}
