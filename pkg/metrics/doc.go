/*
Package metrics provides Prometheus metrics and component health for castlehub.

All metrics are package-level collectors registered with the default Prometheus
registry in init(). Components record observations directly, and Handler()
exposes them for scraping.

# Metrics

Clusters:
  - castlehub_clusters_total{status}: gauge refreshed by Collector
  - castlehub_status_transitions_total{from,to}: counter per transition

Terraform:
  - castlehub_terraform_duration_seconds{operation}: init, plan, show, apply
  - castlehub_terraform_failures_total{operation}
  - castlehub_background_tasks_active: apply tasks in flight

Health polling:
  - castlehub_health_poll_duration_seconds{outcome}: success or timeout
  - castlehub_health_polls_active: hostnames in the busy set

Cloud:
  - castlehub_quota_query_errors_total{resource}: compute, volume, network,
    flavors, images

Reconciler:
  - castlehub_reconciliation_duration_seconds
  - castlehub_reconciliation_cycles_total

# Timing Operations

	timer := metrics.NewTimer()
	err := runner.Plan(ctx, dir, opts, logFile)
	timer.ObserveDurationVec(metrics.TerraformDuration, "plan")
	if err != nil {
		metrics.TerraformFailures.WithLabelValues("plan").Inc()
	}

# Component Health

The health registry backs the /health and /ready endpoints served by pkg/api.
Components report themselves with RegisterComponent/UpdateComponent; readiness
requires every name in CriticalComponents (store and terraform) to be
registered and healthy.

	┌─────────────┐   UpdateComponent   ┌──────────────────┐
	│ Collector   │────────────────────▶│                  │
	│ Reconciler  │────────────────────▶│  HealthChecker   │──▶ /health
	│ serve cmd   │────────────────────▶│                  │──▶ /ready
	└─────────────┘                     └──────────────────┘
*/
package metrics
