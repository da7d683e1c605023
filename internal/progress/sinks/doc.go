// Package sinks implements concrete progress consumers: structured logging,
// Prometheus collectors, the session activity repository and a publisher
// fan-out. Each sink satisfies progress.Sink and tolerates repeated
// Consume/Close cycles.
package sinks
