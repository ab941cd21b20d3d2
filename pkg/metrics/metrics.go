// Package metrics exposes Prometheus collectors for lifecycle activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records orchestrator activity for the /metrics endpoint.
type Collector struct {
	Transitions        *prometheus.CounterVec
	TransitionRejected *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	ExecutionOutcomes  *prometheus.CounterVec
	ExecutionDuration  prometheus.Histogram
	RollbackSteps      prometheus.Counter
	ActiveExecutions   prometheus.Gauge
	OpportunitiesFound *prometheus.CounterVec
	RealizedSavings    prometheus.Counter
}

// NewCollector registers collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_transitions_total",
			Help: "Lifecycle state transitions applied, by source and target state.",
		}, []string{"from", "to"}),
		TransitionRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_transitions_rejected_total",
			Help: "Transitions rejected by a guard, by reason.",
		}, []string{"reason"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_decisions_total",
			Help: "Approval decisions committed, by decision and channel.",
		}, []string{"decision", "via"}),
		ExecutionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_executions_total",
			Help: "Finalized executions by outcome.",
		}, []string{"outcome"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_execution_duration_seconds",
			Help:    "Wall-clock duration of finalized executions.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		RollbackSteps: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_rollback_steps_total",
			Help: "Inverse actions replayed during rollbacks.",
		}),
		ActiveExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_active_executions",
			Help: "Executions currently in flight.",
		}),
		OpportunitiesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_opportunities_discovered_total",
			Help: "Opportunities produced by discovery, by type.",
		}, []string{"type"}),
		RealizedSavings: factory.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_realized_savings_dollars_total",
			Help: "Estimated monthly savings from completed optimizations.",
		}),
	}
}
