// Package api hosts the operator HTTP server that runs beside a harvest.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for live run progress.
package api
