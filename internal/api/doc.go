// Package api hosts the HTTP server, middleware, and handlers of the crawl
// service. Notable routes:
//   - POST /v1/crawl/stream runs one crawl and streams its events as SSE.
//   - POST /v1/jobs submits an asynchronous crawl; GET /v1/jobs/{job_id} and
//     /v1/jobs/{job_id}/result read it back; POST .../cancel stops it.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
