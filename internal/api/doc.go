// Package api hosts the HTTP server, middleware, and REST handlers for the
// onboarding form service. Notable routes:
//   - GET /healthz / readyz for probes and GET /metrics for Prometheus.
//   - /v1/sessions for opening a form session, replaying user interactions,
//     reading progress, restoring saved progress, flushing and closing.
//   - GET /v1/sessions/{session_id}/stream, a websocket of indicator renders.
//   - GET /v1/guard?path= for the page access decision of the caller.
//   - GET /v1/reports/sessions for recorded session activity via the
//     ProgressRepository interface.
package api
