// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and an in-memory snapshot for the HTTP endpoint.
package sinks
