// Package api hosts the operator HTTP endpoint that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for checkpoint and result progress.
package api
