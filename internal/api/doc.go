// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes. Readiness
//     fails once the crawler has stopped or a registered check errors.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for scheduler phase, pass count, frontier sizes and
//     fetch slot usage.
//   - GET /v1/frontier for frontier sizes alone.
package api
