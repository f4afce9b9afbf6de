// Package ledger holds the durable progress stores that make harvest runs
// resumable. Implementations live in the file, postgres and memory
// subpackages and all satisfy harvest.Ledger.
package ledger

// Kind distinguishes the success ledger from the failure ledger.
type Kind string

// Ledger kinds.
const (
	KindResolved Kind = "resolved"
	KindFailed   Kind = "failed"
)
