package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "castlehub_clusters_total",
			Help: "Total number of clusters by status",
		},
		[]string{"status"},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castlehub_status_transitions_total",
			Help: "Total number of cluster status transitions",
		},
		[]string{"from", "to"},
	)

	// Terraform metrics
	TerraformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "castlehub_terraform_duration_seconds",
			Help:    "Duration of terraform commands in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"operation"},
	)

	TerraformFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castlehub_terraform_failures_total",
			Help: "Total number of failed terraform commands",
		},
		[]string{"operation"},
	)

	BackgroundTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "castlehub_background_tasks_active",
			Help: "Number of apply tasks currently running",
		},
	)

	// Health poll metrics
	HealthPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "castlehub_health_poll_duration_seconds",
			Help:    "Time from first health poll to outcome in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"outcome"},
	)

	HealthPollsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "castlehub_health_polls_active",
			Help: "Number of hostnames currently being polled",
		},
	)

	// Cloud metrics
	QuotaQueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "castlehub_quota_query_errors_total",
			Help: "Total number of failed cloud quota queries",
		},
		[]string{"resource"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "castlehub_reconciliation_duration_seconds",
			Help:    "Time taken for reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "castlehub_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(StatusTransitionsTotal)
	prometheus.MustRegister(TerraformDuration)
	prometheus.MustRegister(TerraformFailures)
	prometheus.MustRegister(BackgroundTasksActive)
	prometheus.MustRegister(HealthPollDuration)
	prometheus.MustRegister(HealthPollsActive)
	prometheus.MustRegister(QuotaQueryErrors)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
