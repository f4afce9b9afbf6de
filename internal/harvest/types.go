package harvest

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkItem is one identifier scheduled for fetching.
type WorkItem struct {
	ID      string
	Attempt int
}

// Next returns the item for the following attempt.
func (w WorkItem) Next() WorkItem {
	return WorkItem{ID: w.ID, Attempt: w.Attempt + 1}
}

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

// Outcome kinds. The zero value means the fetcher produced nothing.
const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeTransient
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single fetch attempt.
type Outcome struct {
	Kind   OutcomeKind
	Record *Record
	Reason error
}

// Success wraps a fetched record.
func Success(rec *Record) Outcome {
	return Outcome{Kind: OutcomeSuccess, Record: rec}
}

// Transient reports a failure worth retrying.
func Transient(reason error) Outcome {
	return Outcome{Kind: OutcomeTransient, Reason: reason}
}

// Permanent reports a failure that retrying cannot fix.
func Permanent(reason error) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}

// Transientf formats a transient failure.
func Transientf(format string, args ...any) Outcome {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf formats a permanent failure.
func Permanentf(format string, args ...any) Outcome {
	return Permanent(fmt.Errorf(format, args...))
}

// Validate checks the outcome is one of the three well-formed variants.
func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeSuccess:
		if o.Record == nil {
			return fmt.Errorf("%w: success without record", ErrContractViolation)
		}
		if o.Record.ID == "" {
			return fmt.Errorf("%w: record without identifier", ErrContractViolation)
		}
	case OutcomeTransient, OutcomePermanent:
	default:
		return fmt.Errorf("%w: no outcome", ErrContractViolation)
	}
	return nil
}

// ReasonText returns the failure reason as text, or "" for successes.
func (o Outcome) ReasonText() string {
	if o.Reason == nil {
		return ""
	}
	return o.Reason.Error()
}

// Asset is a binary file belonging to a record, usually an image.
type Asset struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	SHA256 string `json:"sha256,omitempty"`
	// Data holds downloaded content that still has to be written. It is nil
	// when the asset already existed in storage.
	Data []byte `json:"-"`
}

// Pending reports whether the asset still needs to be written.
func (a Asset) Pending() bool {
	return a.Data != nil
}

// Record is the structured result for one museum object.
type Record struct {
	ID        string            `json:"object_id"`
	Site      string            `json:"site"`
	Title     string            `json:"title,omitempty"`
	Tag       string            `json:"tag"`
	Fields    map[string]string `json:"fields,omitempty"`
	Assets    []Asset           `json:"assets"`
	FetchedAt time.Time         `json:"fetched_at"`
	// Verbose is the optional enriched section, e.g. the raw API payload.
	Verbose json.RawMessage `json:"verbose,omitempty"`
}

// AssetNames lists the asset file names in order.
func (r *Record) AssetNames() []string {
	names := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		names = append(names, a.Name)
	}
	return names
}

// Enriched reports whether the verbose section is present.
func (r *Record) Enriched() bool {
	return len(r.Verbose) > 0
}

// Failure is an identifier that ended a run unresolved.
type Failure struct {
	ID       string `json:"object_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// Summary is the user-visible result of a run.
type Summary struct {
	RunID     string    `json:"run_id"`
	Attempted int       `json:"attempted"`
	Resolved  int       `json:"resolved"`
	Skipped   int       `json:"skipped"`
	Failed    []Failure `json:"failed"`
}

// Resolution is a fetched record together with the attempts it took.
type Resolution struct {
	Record   *Record
	Attempts int
}
