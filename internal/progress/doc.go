// Package progress carries harvest lifecycle events from the pipeline to
// pluggable sinks. Emitters never block: events are buffered by a Hub, batched
// on a background goroutine and fanned out to sinks such as the structured
// log, Prometheus collectors or the in-memory snapshot served over HTTP.
package progress
