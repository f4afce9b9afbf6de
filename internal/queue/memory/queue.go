// Package memory provides the in-process work queue used by a harvest run.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

// Queue is an unbounded FIFO of work items with an outstanding-work counter.
// Every Push adds one unit of outstanding work and every AckDone removes one;
// the run is drained once the counter reaches zero.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []harvest.WorkItem
	outstanding int
	policy      RetryPolicy
}

// NewQueue constructs an empty queue that retries items per policy.
func NewQueue(policy RetryPolicy) *Queue {
	q := &Queue{policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and counts it as outstanding.
func (q *Queue) Push(item harvest.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.outstanding++
	q.cond.Broadcast()
}

// Retry re-pushes item for its next attempt unless the retry ceiling is
// reached. It reports whether the item was re-queued.
func (q *Queue) Retry(item harvest.WorkItem) bool {
	if !q.policy.ShouldRetry(item.Attempt) {
		return false
	}
	q.Push(item.Next())
	return true
}

// Pop removes the next item. It blocks while the queue is empty but work is
// still in flight, and reports false once all work is done or ctx ends.
func (q *Queue) Pop(ctx context.Context) (harvest.WorkItem, bool) {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.outstanding == 0 || ctx.Err() != nil {
			return harvest.WorkItem{}, false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return harvest.WorkItem{}, false
	}
	item := q.items[0]
	q.items[0] = harvest.WorkItem{}
	q.items = q.items[1:]
	return item, true
}

// AckDone marks one unit of outstanding work as finished.
func (q *Queue) AckDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == 0 {
		panic("memory queue: AckDone called more times than Push")
	}
	q.outstanding--
	if q.outstanding == 0 {
		q.cond.Broadcast()
	}
}

// Join blocks until the outstanding count reaches zero.
func (q *Queue) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, q.wake)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("queue join canceled: %w", err)
		}
		q.cond.Wait()
	}
	return nil
}

// Len returns the number of queued (not in-flight) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Outstanding returns queued plus in-flight work.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

func (q *Queue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
