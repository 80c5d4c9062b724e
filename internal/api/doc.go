// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /v1/jobs submits a URL for extraction and returns its job id.
//   - GET /v1/jobs and GET /v1/jobs/{job_id} report job status and results.
//   - DELETE /v1/jobs/{job_id} removes a job record.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
