// Package worker implements the per-goroutine fetch loop of a harvest run.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/clock/system"
	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/progress"
)

// Queue is the slice of the work queue a worker needs.
type Queue interface {
	Pop(ctx context.Context) (harvest.WorkItem, bool)
	Retry(item harvest.WorkItem) bool
	AckDone()
}

// Sink receives terminal outcomes.
type Sink interface {
	Resolved(ctx context.Context, res harvest.Resolution) error
	Failed(ctx context.Context, failure harvest.Failure) error
}

// Config identifies the run a worker belongs to.
type Config struct {
	RunID string
	Site  string
}

// Worker pops items, fetches them and routes each outcome to the queue or a sink.
type Worker struct {
	id      int
	queue   Queue
	fetcher harvest.ItemFetcher
	sink    Sink
	emitter progress.Emitter
	clock   harvest.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue Queue,
	fetcher harvest.ItemFetcher,
	sink Sink,
	emitter progress.Emitter,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if emitter == nil {
		emitter = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		fetcher: fetcher,
		sink:    sink,
		emitter: emitter,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run consumes items until the queue is drained or ctx ends. It returns an
// error only for failures that must abort the run.
func (w *Worker) Run(ctx context.Context) error {
	for {
		item, ok := w.queue.Pop(ctx)
		if !ok {
			return nil
		}
		err := w.process(ctx, item)
		w.queue.AckDone()
		if err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, item harvest.WorkItem) error {
	logger := w.logger.With(zap.String("object_id", item.ID), zap.Int("attempt", item.Attempt))
	start := w.clock.Now()
	out, err := w.fetch(ctx, item.ID)
	if err != nil {
		return err
	}
	// An interrupted fetch stays unresolved so the next resume fetches it again.
	if ctx.Err() != nil {
		logger.Info("run interrupted, leaving object unresolved")
		return fmt.Errorf("object %s: %w", item.ID, ctx.Err())
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("object %s: %w", item.ID, err)
	}
	dur := w.clock.Now().Sub(start)

	switch out.Kind {
	case harvest.OutcomeSuccess:
		if err := w.sink.Resolved(ctx, harvest.Resolution{Record: out.Record, Attempts: item.Attempt + 1}); err != nil {
			return err
		}
		logger.Debug("object resolved", zap.Duration("dur", dur))
		w.emit(item, progress.StageItemResolved, dur, "", pendingAssets(out.Record))
		return nil
	case harvest.OutcomeTransient:
		if w.queue.Retry(item) {
			logger.Info("transient failure, retrying", zap.String("reason", out.ReasonText()))
			w.emit(item, progress.StageItemRetry, dur, out.ReasonText(), 0)
			return nil
		}
	}

	logger.Warn("object failed", zap.String("outcome", out.Kind.String()), zap.String("reason", out.ReasonText()))
	failure := harvest.Failure{ID: item.ID, Attempts: item.Attempt + 1, Reason: out.ReasonText()}
	if err := w.sink.Failed(ctx, failure); err != nil {
		return err
	}
	w.emit(item, progress.StageItemFailed, dur, out.ReasonText(), 0)
	return nil
}

// fetch calls the fetcher and converts a panic into a contract violation.
func (w *Worker) fetch(ctx context.Context, id string) (out harvest.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("object %s: %w: fetcher panicked: %v", id, harvest.ErrContractViolation, r)
		}
	}()
	return w.fetcher.Fetch(ctx, id), nil
}

func (w *Worker) emit(item harvest.WorkItem, stage progress.Stage, dur time.Duration, note string, assets int) {
	w.emitter.Emit(progress.Event{
		RunID:    w.cfg.RunID,
		TS:       w.clock.Now(),
		Stage:    stage,
		Site:     w.cfg.Site,
		ObjectID: item.ID,
		Attempt:  item.Attempt,
		Assets:   assets,
		Dur:      dur,
		Note:     note,
	})
}

func pendingAssets(rec *harvest.Record) int {
	n := 0
	for _, a := range rec.Assets {
		if a.Pending() {
			n++
		}
	}
	return n
}
