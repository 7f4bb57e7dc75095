/*
Package api serves the HTTP health surface of castlehub.

	GET /health   liveness, 503 once a registered component is unhealthy
	GET /ready    readiness, 503 until the store and terraform are usable
	GET /metrics  Prometheus metrics

Readiness probes the record store on every request and reads the rest from
the component registry in pkg/metrics, where the serve command records
whether the terraform binary runs.

	hs := api.NewHealthServer(store)
	go hs.Start(":9090")
	defer hs.Shutdown(ctx)
*/
package api
