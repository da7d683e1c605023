// Package main hosts the onboarding form service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, form sessions, the onboarding guard, and session
//     reports. Every session runs on one cooperative schedule.Loop, so the form model, the progress manager and the
//     event coordinator never need locks.
//   - Sessions: a session owns a form model built from the client's field list. Inputs are applied to the model,
//     the coordinator debounces progress renders and autosaves, and renders are streamed to websocket subscribers.
//   - Persistence: saved progress is one JSON document per user and form, stored in memory, on disk, in SQLite,
//     in Postgres or in Cloud Storage. Lifecycle events are batched by the progress hub into log, Prometheus,
//     report store and Pub/Sub sinks.
//   - Configuration & plumbing: Viper populates config from env/files (ONBOARD_ prefix, optional .env via
//     godotenv); zap provides structured logging; Prometheus metrics are exported on /metrics; OpenTelemetry
//     traces are exported over OTLP when enabled.
//
// Quick checklist:
//   - Run locally: go run ./cmd/onboardd serve --config config.yaml (or rely solely on env overrides).
//   - Postgres: go run ./cmd/onboardd migrate creates the tables; storage.postgres.ensure_schema does the same
//     at start-up.
//   - Auth: set ONBOARD_AUTH_ENABLED=true and ONBOARD_AUTH_JWT_SECRET, then mint a token with
//     go run ./cmd/onboardd token <user-id>.
package main
