// Package dispatcher supervises the worker pool of a harvest run.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency caps the worker pool when no limit is configured.
const DefaultMaxConcurrency = 10

// Runner is a unit of work supervised by the dispatcher.
type Runner interface {
	Run(ctx context.Context) error
}

// WorkerCount returns how many workers to spawn for queued items.
func WorkerCount(queued, maxConcurrency int) int {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if queued <= 0 {
		return 0
	}
	return min(queued, maxConcurrency)
}

// Dispatcher runs a fixed set of workers and joins them.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts every worker and blocks until all have returned. The first
// worker error cancels the others and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range d.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}
