// Package harvest defines the core types and interfaces shared by the
// resumable fetch pipeline: work items, fetch outcomes, records and the
// storage contracts the pipeline depends on.
package harvest
