// Package metrics holds the Prometheus collectors for the platform core.
// Collectors register once via promauto and are injected by reference.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the processing core.
type Metrics struct {
	// Pipeline metrics
	TransactionsTotal *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ConfidenceScore   *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec

	// Customer matching metrics
	MatchResults *prometheus.CounterVec

	// Cache metrics
	CacheRequests *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec

	// Tenant metrics
	QuotaRejections *prometheus.CounterVec

	// Backup metrics
	BackupJobs     *prometheus.CounterVec
	BackupDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on the given registerer. Pass nil
// to use the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_transactions_total",
				Help: "Transactions processed by the pipeline",
			},
			[]string{"connector", "status"}, // status: completed, failed
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taxpoynt_stage_duration_seconds",
				Help:    "Wall time per pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ConfidenceScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taxpoynt_confidence_score",
				Help:    "Final confidence score of processed transactions",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"connector"},
		),

		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_stage_failures_total",
				Help: "Stage executions that ended failed or timed out",
			},
			[]string{"stage", "action"}, // action: fail_pipeline, continue_with_warning, retry_with_defaults, manual_review
		),

		MatchResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_customer_match_total",
				Help: "Customer matching outcomes",
			},
			[]string{"outcome"}, // outcome: created, merged, manual_review
		),

		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_cache_requests_total",
				Help: "Cache lookups by tier and result",
			},
			[]string{"tier", "result"}, // tier: l1, l2; result: hit, miss, error
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taxpoynt_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_quota_rejections_total",
				Help: "Requests rejected by tenant quota or rate limit",
			},
			[]string{"tenant", "reason"}, // reason: invoice_quota, rate_limit
		),

		BackupJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxpoynt_backup_jobs_total",
				Help: "Backup jobs by type and terminal status",
			},
			[]string{"type", "status"},
		),

		BackupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taxpoynt_backup_duration_seconds",
				Help:    "Backup job duration from start to terminal state",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"type"},
		),
	}
}
