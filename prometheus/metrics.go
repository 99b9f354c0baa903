package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sync-domain collectors
type Metrics struct {
	// Reconciliation metrics
	ReconcileRuns     *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec

	// Replica write metrics
	ItemsSynced  *prometheus.CounterVec
	ItemsFailed  *prometheus.CounterVec
	ItemsDeleted *prometheus.CounterVec

	// Webhook metrics
	WebhooksReceived   *prometheus.CounterVec
	SignatureFailures  *prometheus.CounterVec
	SubscriptionAction *prometheus.CounterVec

	// Remote API metrics
	RemoteRequests        *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec

	// Worker queue metrics
	QueueDepth prometheus.Gauge
	JobsTotal  *prometheus.CounterVec
}

// New registers the collectors on reg with the given name prefix
func New(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_reconcile_runs_total",
				Help: "Total number of reconciliation runs by kind and status",
			},
			[]string{"kind", "status"},
		),
		ReconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_reconcile_duration_seconds",
				Help:    "Duration of reconciliation runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"kind"},
		),
		ItemsSynced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_items_synced_total",
				Help: "Total number of catalog items upserted by source",
			},
			[]string{"source"},
		),
		ItemsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_items_failed_total",
				Help: "Total number of catalog items that failed to sync by source",
			},
			[]string{"source"},
		),
		ItemsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_items_soft_deleted_total",
				Help: "Total number of catalog items soft-deleted by source",
			},
			[]string{"source"},
		),
		WebhooksReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_webhooks_received_total",
				Help: "Total number of inbound webhooks by topic and result",
			},
			[]string{"topic", "result"},
		),
		SignatureFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_signature_failures_total",
				Help: "Total number of rejected signatures by channel",
			},
			[]string{"channel"},
		),
		SubscriptionAction: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_subscription_actions_total",
				Help: "Total number of webhook subscription actions",
			},
			[]string{"topic", "action"},
		),
		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_remote_requests_total",
				Help: "Total number of remote API requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		RemoteRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_remote_request_duration_seconds",
				Help:    "Duration of remote API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_worker_queue_depth",
				Help: "Number of jobs waiting in the initial-sync queue",
			},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_worker_jobs_total",
				Help: "Total number of worker jobs by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

// NewNop returns collectors registered on a private registry, for tests and one-shot commands
func NewNop() *Metrics {
	return New("nop", prometheus.NewRegistry())
}

// ObserveRemote records one remote call
func (m *Metrics) ObserveRemote(operation, status string, startTime time.Time) {
	m.RemoteRequests.WithLabelValues(operation, status).Inc()
	m.RemoteRequestDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
}

// RecordReconcile records a finished reconciliation run
func (m *Metrics) RecordReconcile(kind, status string, duration time.Duration) {
	m.ReconcileRuns.WithLabelValues(kind, status).Inc()
	m.ReconcileDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
