// Package api defines the wire types of the ScoreFlow HTTP API.
//
// # API Overview
//
//   - POST /api/v1/score            score query/document pairs
//   - GET  /api/v1/model            loaded model and batching settings
//   - GET  /api/v1/metrics/summary  latency, stage and throughput summary
//   - POST /api/v1/metrics/reset    clear summary windows
//   - GET  /api/v1/stats            scheduler and worker pool snapshot
//   - GET  /health, /healthz, /ready, /version
//
// Prometheus metrics are served on the separate metrics port at /metrics.
//
// # Authentication
//
// When API keys are configured, requests must carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When JWT is configured, requests must carry a bearer token instead:
//
//	Authorization: Bearer <token>
package api
