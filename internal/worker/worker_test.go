package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/progress"
	"github.com/JakeFAU/heritage-harvester/internal/queue/memory"
)

func TestWorkerRoutesOutcomes(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(memory.NewRetryPolicy(3))
	for _, id := range []string{"ok", "gone", "flaky"} {
		q.Push(harvest.WorkItem{ID: id})
	}
	sink := &fakeSink{}
	emitter := &fakeEmitter{}
	fetcher := harvest.FetcherFunc(func(_ context.Context, id string) harvest.Outcome {
		switch id {
		case "ok":
			return harvest.Success(&harvest.Record{ID: id})
		case "gone":
			return harvest.Permanent(harvest.ErrNotFound)
		default:
			return harvest.Transientf("timeout")
		}
	})

	w := New(1, q, fetcher, sink, emitter, fixedClock{}, Config{RunID: "run", Site: "test"}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	require.Zero(t, q.Outstanding())
	require.Len(t, sink.resolved, 1)
	require.Equal(t, 1, sink.resolved[0].Attempts)
	require.ElementsMatch(t, []harvest.Failure{
		{ID: "gone", Attempts: 1, Reason: harvest.ErrNotFound.Error()},
		{ID: "flaky", Attempts: 3, Reason: "timeout"},
	}, sink.failed)
	require.Equal(t, 2, emitter.count(progress.StageItemRetry))
	require.Equal(t, 2, emitter.count(progress.StageItemFailed))
	require.Equal(t, 1, emitter.count(progress.StageItemResolved))
}

func TestWorkerRetrySucceedsOnLaterAttempt(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(memory.NewRetryPolicy(3))
	q.Push(harvest.WorkItem{ID: "O1"})
	calls := 0
	fetcher := harvest.FetcherFunc(func(_ context.Context, id string) harvest.Outcome {
		calls++
		if calls < 3 {
			return harvest.Transientf("http 503")
		}
		return harvest.Success(&harvest.Record{ID: id})
	})
	sink := &fakeSink{}
	require.NoError(t, New(1, q, fetcher, sink, nil, fixedClock{}, Config{}, nil).Run(context.Background()))
	require.Len(t, sink.resolved, 1)
	require.Equal(t, 3, sink.resolved[0].Attempts)
	require.Empty(t, sink.failed)
}

func TestWorkerContractViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]harvest.ItemFetcher{
		"no outcome": harvest.FetcherFunc(func(context.Context, string) harvest.Outcome { return harvest.Outcome{} }),
		"nil record": harvest.FetcherFunc(func(context.Context, string) harvest.Outcome { return harvest.Success(nil) }),
		"panic": harvest.FetcherFunc(func(context.Context, string) harvest.Outcome {
			panic("parser exploded")
		}),
	}
	for name, fetcher := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			q := memory.NewQueue(memory.NewRetryPolicy(3))
			q.Push(harvest.WorkItem{ID: "O1"})
			err := New(1, q, fetcher, &fakeSink{}, nil, fixedClock{}, Config{}, nil).Run(context.Background())
			require.ErrorIs(t, err, harvest.ErrContractViolation)
			require.Zero(t, q.Outstanding())
		})
	}
}

func TestWorkerSinkErrorAborts(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(memory.NewRetryPolicy(3))
	q.Push(harvest.WorkItem{ID: "O1"})
	q.Push(harvest.WorkItem{ID: "O2"})
	sink := &fakeSink{err: harvest.ErrStorage}
	fetcher := harvest.FetcherFunc(func(_ context.Context, id string) harvest.Outcome {
		return harvest.Success(&harvest.Record{ID: id})
	})
	err := New(1, q, fetcher, sink, nil, fixedClock{}, Config{}, nil).Run(context.Background())
	require.ErrorIs(t, err, harvest.ErrStorage)
	require.Equal(t, 1, q.Len(), "worker stops after the fatal error")
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(memory.NewRetryPolicy(3))
	q.Push(harvest.WorkItem{ID: "O1"})
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := harvest.FetcherFunc(func(_ context.Context, id string) harvest.Outcome {
		cancel()
		return harvest.Transientf("canceled")
	})
	done := make(chan error, 1)
	go func() {
		done <- New(1, q, fetcher, &fakeSink{}, nil, fixedClock{}, Config{}, nil).Run(ctx)
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerLeavesInterruptedLastAttemptUnresolved(t *testing.T) {
	t.Parallel()

	for _, kind := range []harvest.OutcomeKind{harvest.OutcomeTransient, harvest.OutcomePermanent, harvest.OutcomeSuccess} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			q := memory.NewQueue(memory.NewRetryPolicy(3))
			q.Push(harvest.WorkItem{ID: "O1", Attempt: 2})
			ctx, cancel := context.WithCancel(context.Background())
			fetcher := harvest.FetcherFunc(func(ctx context.Context, id string) harvest.Outcome {
				cancel()
				switch kind {
				case harvest.OutcomeTransient:
					return harvest.Transient(ctx.Err())
				case harvest.OutcomePermanent:
					return harvest.Permanent(harvest.ErrNotFound)
				default:
					return harvest.Success(&harvest.Record{ID: id})
				}
			})
			sink := &fakeSink{}
			err := New(1, q, fetcher, sink, nil, fixedClock{}, Config{}, nil).Run(ctx)
			require.ErrorIs(t, err, context.Canceled)
			require.Empty(t, sink.failed)
			require.Empty(t, sink.resolved)
			require.Zero(t, q.Outstanding())
		})
	}
}

// --- fakes ---

type fakeSink struct {
	mu       sync.Mutex
	resolved []harvest.Resolution
	failed   []harvest.Failure
	err      error
}

func (s *fakeSink) Resolved(_ context.Context, res harvest.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.resolved = append(s.resolved, res)
	return nil
}

func (s *fakeSink) Failed(_ context.Context, f harvest.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.failed = append(s.failed, f)
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *fakeEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) count(stage progress.Stage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
}
