package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_db_write_duration_seconds",
			Help:    "DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"component", "op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_db_rows_affected_total",
			Help: "DB rows written, updated, or soft-deleted.",
		},
		[]string{"component", "table", "op"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_rule_evaluations_total",
			Help: "Rule checks run, by rule and outcome.",
		},
		[]string{"rule", "outcome"},
	)

	RuleEvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_rule_evaluation_duration_seconds",
			Help:    "Wall-clock time for a full Detect() fan-out.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"op"},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_conflicts_total",
			Help: "Conflicts detected, by type and severity.",
		},
		[]string{"type", "severity"},
	)

	MutationsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_mutations_rejected_total",
			Help: "Peering mutations rejected due to a detected conflict.",
		},
		[]string{"op"},
	)

	CircuitBreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_circuit_breaker_state_changes_total",
			Help: "Circuit breaker transitions, by breaker name and new state.",
		},
		[]string{"breaker", "state"},
	)

	ExternalCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_external_call_duration_seconds",
			Help:    "Latency of calls to external services, through their circuit breakers.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"service", "outcome"},
	)

	AnomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_anomalies_detected_total",
			Help: "Anomalies detected, by metric type and severity.",
		},
		[]string{"type", "severity"},
	)

	FeatureWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_feature_write_failures_total",
			Help: "Feature sink writes that failed (counted and logged, never propagated to the caller).",
		},
		[]string{"store"},
	)

	IncidentDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_incident_dispatch_total",
			Help: "Incident dispatch attempts, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	StreamConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_stream_consumer_lag",
			Help: "Estimated consumer lag, in messages, by partition.",
		},
		[]string{"topic", "partition"},
	)

	StreamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_stream_messages_total",
			Help: "Stream messages consumed, by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)
)

var registerOnce sync.Once

// Register is idempotent: it is called from cmd/orchestrator and from this
// package's own test, so a sync.Once guards against a double-registration
// panic.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DBWriteDuration,
			DBRowsAffectedTotal,
			RuleEvaluationsTotal,
			RuleEvaluationDuration,
			ConflictsTotal,
			MutationsRejectedTotal,
			CircuitBreakerStateChanges,
			ExternalCallDuration,
			AnomaliesDetectedTotal,
			FeatureWriteFailuresTotal,
			IncidentDispatchTotal,
			StreamConsumerLag,
			StreamMessagesTotal,
		)
	})
}
