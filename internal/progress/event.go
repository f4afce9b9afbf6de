package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageItemResolved Stage = "ITEM_RESOLVED"
	StageItemRetry    Stage = "ITEM_RETRY"
	StageItemFailed   Stage = "ITEM_FAILED"
)

// Event captures one step of harvest progress.
type Event struct {
	// RunID identifies the pipeline run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the museum site label, e.g. "vanda".
	Site string
	// ObjectID is set on item events.
	ObjectID string
	// Attempt is the zero-based attempt that produced the event.
	Attempt int
	// Items carries the seeded item count on RUN_START and the resolved count on RUN_DONE.
	Items int
	// Assets counts images downloaded for a resolved item.
	Assets int
	Dur    time.Duration
	// Note holds low-volume context such as the failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageItemResolved, StageItemRetry, StageItemFailed:
		if e.ObjectID == "" {
			return fmt.Errorf("%s requires object id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsItem reports whether the event describes a single object.
func (e Event) IsItem() bool {
	switch e.Stage {
	case StageItemResolved, StageItemRetry, StageItemFailed:
		return true
	default:
		return false
	}
}
