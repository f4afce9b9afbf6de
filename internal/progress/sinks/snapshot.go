package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/heritage-harvester/internal/progress"
)

// RunSnapshot is the live view of one run.
type RunSnapshot struct {
	RunID     string    `json:"run_id"`
	Site      string    `json:"site"`
	State     string    `json:"state"`
	Seeded    int       `json:"seeded"`
	Resolved  int       `json:"resolved"`
	Retries   int       `json:"retries"`
	Failed    int       `json:"failed"`
	Assets    int       `json:"assets"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// SnapshotSink keeps per-run counters in memory for the progress endpoint.
type SnapshotSink struct {
	mu   sync.RWMutex
	runs map[string]*RunSnapshot
}

// NewSnapshotSink constructs an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{runs: make(map[string]*RunSnapshot)}
}

// Consume folds batch into the run counters.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		run, ok := s.runs[evt.RunID]
		if !ok {
			run = &RunSnapshot{RunID: evt.RunID, Site: evt.Site, State: "running", StartedAt: evt.TS}
			s.runs[evt.RunID] = run
		}
		run.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			run.Seeded = evt.Items
			run.StartedAt = evt.TS
		case progress.StageRunDone:
			run.State = "done"
		case progress.StageRunError:
			run.State = "error"
			run.LastError = evt.Note
		case progress.StageItemResolved:
			run.Resolved++
			run.Assets += evt.Assets
		case progress.StageItemRetry:
			run.Retries++
		case progress.StageItemFailed:
			run.Failed++
			run.LastError = evt.Note
		}
	}
	return nil
}

// Run returns a copy of the snapshot for runID.
func (s *SnapshotSink) Run(runID string) (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return RunSnapshot{}, false
	}
	return *run, true
}

// Runs returns copies of all known runs.
func (s *SnapshotSink) Runs() []RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunSnapshot, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out
}

// Close implements progress.Sink.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
