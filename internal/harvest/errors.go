package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStorage marks failures to persist output or checkpoints. They are fatal to a run.
	ErrStorage = errors.New("storage failure")
	// ErrContractViolation marks a fetcher that produced no usable outcome.
	ErrContractViolation = errors.New("fetcher contract violation")
	// ErrPipelineReused is returned when a finished pipeline is run again.
	ErrPipelineReused = errors.New("pipeline already ran")
	// ErrNotFound signals that a remote object does not exist.
	ErrNotFound = errors.New("object not found")
)

// StatusError is a non-2xx HTTP response from a museum site.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.Code)
}

// Is lets 404 and 410 responses match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && (e.Code == http.StatusNotFound || e.Code == http.StatusGone)
}

// Retriable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retriable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}

// Classify turns a fetch error into a failure outcome. Missing objects and
// client errors are permanent; network errors, throttling and server errors
// are transient.
func Classify(err error) Outcome {
	var statusErr *StatusError
	switch {
	case err == nil:
		return Outcome{}
	case errors.Is(err, ErrNotFound):
		return Permanent(err)
	case errors.As(err, &statusErr) && !statusErr.Retriable():
		return Permanent(err)
	default:
		return Transient(err)
	}
}
