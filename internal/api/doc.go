// Package api hosts the HTTP server, middleware, and REST handlers for the
// collector. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/rankings/collect to run one orchestration synchronously.
//   - GET /v1/rankings/runs, /v1/rankings/runs/{run_id} and
//     /v1/rankings/runs/{run_id}/progress for stored runs and live progress.
package api
