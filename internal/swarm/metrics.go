package swarm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetaMetrics holds Prometheus metrics for the tick loop and evolution.
type MetaMetrics struct {
	TicksTotal         prometheus.Counter
	TickDuration       prometheus.Histogram
	MessagesDelivered  prometheus.Counter
	InvocationsTotal   *prometheus.CounterVec
	InvocationLatency  prometheus.Histogram
	MutationsTotal     *prometheus.CounterVec
	ReseedsTotal       prometheus.Counter
	TimeoutsTotal      prometheus.Counter
	ActiveAgents       prometheus.Gauge
	TrialAgents        prometheus.Gauge
	LineageBestFitness *prometheus.GaugeVec
}

// Global metrics instance (singleton pattern to avoid Prometheus registration conflicts)
var (
	metaMetricsInstance *MetaMetrics
	metaMetricsOnce     sync.Once
)

// invocationOutcome labels a settled capability result for the invocation
// counter: "success" or the failure kind.
func invocationOutcome(result CapabilityResult) string {
	if result.Success {
		return "success"
	}
	return string(result.Kind)
}

// getOrCreateMetaMetrics returns the singleton metrics instance
// Uses sync.Once to ensure metrics are registered only once globally
func getOrCreateMetaMetrics() *MetaMetrics {
	metaMetricsOnce.Do(func() {
		metaMetricsInstance = &MetaMetrics{
			TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarm_ticks_total",
				Help: "Total number of orchestration ticks",
			}),
			TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "swarm_tick_duration_seconds",
				Help:    "Duration of one full tick",
				Buckets: prometheus.DefBuckets,
			}),
			MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarm_messages_delivered_total",
				Help: "Total number of bus messages delivered at tick boundaries",
			}),
			InvocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "swarm_invocations_total",
				Help: "Total capability invocations by outcome kind",
			}, []string{"outcome"}),
			InvocationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "swarm_invocation_latency_seconds",
				Help:    "Capability invocation latency",
				Buckets: prometheus.DefBuckets,
			}),
			MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "swarm_mutations_total",
				Help: "Total mutation candidates by decision",
			}, []string{"decision"}),
			ReseedsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarm_reseeds_total",
				Help: "Total lineage re-seeds after extinction",
			}),
			TimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "swarm_request_timeouts_total",
				Help: "Total pending correlations expired by the tick loop",
			}),
			ActiveAgents: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "swarm_active_agents",
				Help: "Number of Active task agents",
			}),
			TrialAgents: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "swarm_trial_agents",
				Help: "Number of Trial agents under evaluation",
			}),
			LineageBestFitness: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "swarm_lineage_best_fitness",
				Help: "Best fitness per lineage",
			}, []string{"lineage"}),
		}
	})
	return metaMetricsInstance
}
