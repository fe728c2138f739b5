// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and an in-memory per-run tracker.
package sinks
