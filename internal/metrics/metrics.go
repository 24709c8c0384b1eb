// Package metrics defines the Prometheus instrumentation for the decision
// and evidence pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the core pipeline.
type Metrics struct {
	// Classifier
	ClassificationsTotal *prometheus.CounterVec
	ViolationsDetected   *prometheus.CounterVec

	// Decision engine
	DecisionsTotal   *prometheus.CounterVec
	DecisionsReused  prometheus.Counter
	DecisionDuration prometheus.Histogram

	// Evidence ledger
	EvidenceEntriesTotal  *prometheus.CounterVec
	EvidenceWriteFailures prometheus.Counter
	ChainVerifyFailures   *prometheus.CounterVec

	// Orchestrator
	CampaignsProcessed prometheus.Counter
	TickDuration       prometheus.Histogram
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		ClassificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zabvenie_classifications_total",
				Help: "Operator replies classified, by response category",
			},
			[]string{"response_type"},
		),
		ViolationsDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zabvenie_violations_detected_total",
				Help: "Compliance violations detected in operator replies",
			},
			[]string{"violation"},
		),
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zabvenie_decisions_total",
				Help: "Decisions produced by the rule engine",
			},
			[]string{"type", "rule"},
		),
		DecisionsReused: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zabvenie_decisions_reused_total",
				Help: "Decisions returned unchanged because the idempotency key matched",
			},
		),
		DecisionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zabvenie_decision_duration_seconds",
				Help:    "Duration of one decide() evaluation",
				Buckets: prometheus.DefBuckets,
			},
		),
		EvidenceEntriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zabvenie_evidence_entries_total",
				Help: "Evidence entries appended to campaign chains",
			},
			[]string{"evidence_type"},
		),
		EvidenceWriteFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zabvenie_evidence_write_failures_total",
				Help: "Failed evidence appends (the decision is still returned)",
			},
		),
		ChainVerifyFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zabvenie_chain_verify_failures_total",
				Help: "Chain verification check failures, by check name",
			},
			[]string{"check"},
		),
		CampaignsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zabvenie_campaigns_processed_total",
				Help: "Campaigns processed by the scheduler",
			},
		),
		TickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zabvenie_scheduler_tick_duration_seconds",
				Help:    "Duration of one scheduler sweep over due campaigns",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
	}
}
