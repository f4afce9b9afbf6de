// Package pipeline runs one resumable harvest: it seeds the work queue from
// the input identifiers minus what the ledgers already record, drains it with
// a bounded worker pool, and finalizes the aggregate and summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/heritage-harvester/internal/clock/system"
	"github.com/JakeFAU/heritage-harvester/internal/dispatcher"
	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/id/uuid"
	"github.com/JakeFAU/heritage-harvester/internal/progress"
	"github.com/JakeFAU/heritage-harvester/internal/queue/memory"
	"github.com/JakeFAU/heritage-harvester/internal/report"
	"github.com/JakeFAU/heritage-harvester/internal/worker"
	"github.com/JakeFAU/heritage-harvester/internal/writer"
)

// State is the lifecycle position of a Pipeline.
type State int

// Pipeline states in the order they are entered.
const (
	StateIdle State = iota
	StateSeeding
	StateDraining
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateDraining:
		return "draining"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes a run.
type Config struct {
	Site           string
	MaxConcurrency int
	RetryCeiling   int
	// Resume skips identifiers already present in the ledgers.
	Resume bool
	// RetryFailed re-attempts identifiers recorded in the failure ledger.
	RetryFailed   bool
	AggregateFile string
	Topic         string
	SinkBuffer    int
}

// Deps are the collaborators of a run. Publisher, Emitter, Clock and IDs are optional.
type Deps struct {
	Fetcher   harvest.ItemFetcher
	Store     harvest.BlobStore
	Resolved  harvest.Ledger
	Failed    harvest.Ledger
	Publisher harvest.Publisher
	Emitter   progress.Emitter
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
}

// RunContext holds everything one run owns. It is created during seeding and
// discarded when the run finishes.
type RunContext struct {
	RunID   string
	Queue   *memory.Queue
	Writer  *writer.Writer
	Seeded  []string
	Skipped int
	Workers int
}

// Pipeline executes a single run. A second Run returns harvest.ErrPipelineReused.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// New validates deps and applies defaults.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: blob store is required")
	case deps.Resolved == nil || deps.Failed == nil:
		return nil, errors.New("pipeline: success and failure ledgers are required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = dispatcher.DefaultMaxConcurrency
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = memory.DefaultRetryCeiling
	}
	if cfg.AggregateFile == "" {
		cfg.AggregateFile = report.DefaultFileName
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewGenerator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger.Named("pipeline")}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) enter(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run harvests ids. Fetch failures never fail the run; they are listed in the
// summary. Errors are returned for storage failures, contract violations and
// cancellation.
func (p *Pipeline) Run(ctx context.Context, ids []string) (harvest.Summary, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return harvest.Summary{}, harvest.ErrPipelineReused
	}
	p.state = StateSeeding
	p.mu.Unlock()
	defer p.enter(StateDone)

	start := p.deps.Clock.Now()
	rc, err := p.seed(ctx, ids)
	if err != nil {
		return harvest.Summary{}, err
	}
	logger := p.logger.With(zap.String("run_id", rc.RunID), zap.String("site", p.cfg.Site))
	logger.Info("run seeded",
		zap.Int("input", len(ids)),
		zap.Int("seeded", len(rc.Seeded)),
		zap.Int("skipped", rc.Skipped),
		zap.Int("workers", rc.Workers),
	)
	p.emit(rc, progress.StageRunStart, len(rc.Seeded), 0, "")

	if len(rc.Seeded) == 0 && len(ids) > 0 {
		logger.Warn("every identifier is already recorded, nothing to fetch")
	}

	p.enter(StateDraining)
	if err := p.drain(ctx, rc); err != nil {
		logger.Error("run aborted", zap.Error(err))
		p.emit(rc, progress.StageRunError, 0, p.deps.Clock.Now().Sub(start), err.Error())
		return p.summarize(rc), err
	}

	p.enter(StateFinalizing)
	summary := p.summarize(rc)
	rows := report.Build(rc.Seeded, rc.Writer.Records(), rc.Writer.Failures())
	uri, err := report.Store(context.WithoutCancel(ctx), p.deps.Store, p.cfg.AggregateFile, rows)
	if err != nil {
		p.emit(rc, progress.StageRunError, 0, p.deps.Clock.Now().Sub(start), err.Error())
		return summary, err
	}

	for _, f := range summary.Failed {
		logger.Warn("unresolved identifier",
			zap.String("object_id", f.ID),
			zap.Int("attempts", f.Attempts),
			zap.String("reason", f.Reason),
		)
	}
	logger.Info("run complete",
		zap.Int("attempted", summary.Attempted),
		zap.Int("resolved", summary.Resolved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failed)),
		zap.String("aggregate", uri),
	)
	p.emit(rc, progress.StageRunDone, summary.Resolved, p.deps.Clock.Now().Sub(start), "")
	return summary, nil
}

// seed loads the ledgers, filters the input and fills the queue.
func (p *Pipeline) seed(ctx context.Context, ids []string) (*RunContext, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}

	done := map[string]struct{}{}
	if p.cfg.Resume {
		if done, err = p.deps.Resolved.Load(ctx); err != nil {
			return nil, fmt.Errorf("load success ledger: %w", err)
		}
		if !p.cfg.RetryFailed {
			failed, err := p.deps.Failed.Load(ctx)
			if err != nil {
				return nil, fmt.Errorf("load failure ledger: %w", err)
			}
			for id := range failed {
				done[id] = struct{}{}
			}
		}
	}

	q := memory.NewQueue(memory.NewRetryPolicy(p.cfg.RetryCeiling))
	rc := &RunContext{RunID: runID, Queue: q}
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := done[id]; ok {
			rc.Skipped++
			continue
		}
		rc.Seeded = append(rc.Seeded, id)
		q.Push(harvest.WorkItem{ID: id})
	}

	rc.Workers = dispatcher.WorkerCount(q.Len(), p.cfg.MaxConcurrency)
	rc.Writer = writer.New(
		p.deps.Store,
		p.deps.Resolved,
		p.deps.Failed,
		p.deps.Publisher,
		writer.Config{Buffer: p.cfg.SinkBuffer, Topic: p.cfg.Topic, RunID: runID},
		p.logger,
	)
	return rc, nil
}

// drain runs the sinks and workers until the queue is joined. The sinks are
// closed only once no worker can send to them.
func (p *Pipeline) drain(ctx context.Context, rc *RunContext) error {
	workers := make([]dispatcher.Runner, rc.Workers)
	for i := range workers {
		workers[i] = worker.New(
			i,
			rc.Queue,
			p.deps.Fetcher,
			rc.Writer,
			p.deps.Emitter,
			p.deps.Clock,
			worker.Config{RunID: rc.RunID, Site: p.cfg.Site},
			p.logger,
		)
	}
	pool := dispatcher.New(workers...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rc.Writer.DrainResolved(gctx) })
	g.Go(func() error { return rc.Writer.DrainFailed(gctx) })
	g.Go(func() error {
		defer rc.Writer.CloseInputs()
		if err := pool.Run(gctx); err != nil {
			return err
		}
		return rc.Queue.Join(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("harvest %s: %w", p.cfg.Site, err)
	}
	return nil
}

// summarize reads the writer state. It must run after drain returned.
func (p *Pipeline) summarize(rc *RunContext) harvest.Summary {
	records, failures := rc.Writer.Records(), rc.Writer.Failures()
	summary := harvest.Summary{
		RunID:     rc.RunID,
		Attempted: len(rc.Seeded),
		Resolved:  len(records),
		Skipped:   rc.Skipped,
		Failed:    []harvest.Failure{},
	}
	for _, id := range rc.Seeded {
		if f, ok := failures[id]; ok {
			summary.Failed = append(summary.Failed, f)
		}
	}
	return summary
}

func (p *Pipeline) emit(rc *RunContext, stage progress.Stage, items int, dur time.Duration, note string) {
	p.deps.Emitter.Emit(progress.Event{
		RunID: rc.RunID,
		TS:    p.deps.Clock.Now(),
		Stage: stage,
		Site:  p.cfg.Site,
		Items: items,
		Dur:   dur,
		Note:  note,
	})
}
