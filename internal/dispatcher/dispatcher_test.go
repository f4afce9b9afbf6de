package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, WorkerCount(0, 10))
	require.Equal(t, 3, WorkerCount(3, 10))
	require.Equal(t, 10, WorkerCount(500, 10))
	require.Equal(t, 1, WorkerCount(500, 1))
	require.Equal(t, DefaultMaxConcurrency, WorkerCount(500, 0))
}

func TestDispatcherRunsAllWorkers(t *testing.T) {
	t.Parallel()

	var ran atomic.Int64
	workers := make([]Runner, 4)
	for i := range workers {
		workers[i] = runnerFunc(func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	d := New(workers...)
	require.Equal(t, 4, d.Size())
	require.NoError(t, d.Run(context.Background()))
	require.Equal(t, int64(4), ran.Load())
}

func TestDispatcherFirstErrorCancelsOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	blocked := runnerFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("not canceled")
		}
	})
	failing := runnerFunc(func(context.Context) error { return boom })

	err := New(blocked, failing, blocked).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestDispatcherWithoutWorkers(t *testing.T) {
	t.Parallel()

	require.NoError(t, New().Run(context.Background()))
}

// --- fakes ---

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }
