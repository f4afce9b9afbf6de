// Package writer persists the terminal outcomes of a harvest run. It owns two
// independent sinks, each drained by a single goroutine: resolved records go
// to storage and the success ledger, failures to the failure ledger.
package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

const (
	defaultBuffer   = 64
	jsonContentType = "application/json"
	jpegContentType = "image/jpeg"
)

// Config controls sink buffering and notifications.
type Config struct {
	// Buffer is the capacity of each sink channel.
	Buffer int
	// Topic receives one notification per resolved record when a publisher is set.
	Topic string
	RunID string
}

// Notification is published after a record is stored.
type Notification struct {
	RunID    string   `json:"run_id"`
	Site     string   `json:"site"`
	ObjectID string   `json:"object_id"`
	Record   string   `json:"record_uri"`
	Assets   []string `json:"assets"`
	Attempts int      `json:"attempts"`
}

// Writer implements worker.Sink.
type Writer struct {
	store     harvest.BlobStore
	resolved  harvest.Ledger
	failed    harvest.Ledger
	publisher harvest.Publisher
	cfg       Config
	logger    *zap.Logger

	successCh chan harvest.Resolution
	failureCh chan harvest.Failure
	closeOnce sync.Once

	// Owned by the drain goroutines until they return.
	records  map[string]harvest.Resolution
	failures map[string]harvest.Failure
}

// New constructs a Writer. publisher may be nil.
func New(
	store harvest.BlobStore,
	resolved harvest.Ledger,
	failed harvest.Ledger,
	publisher harvest.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:     store,
		resolved:  resolved,
		failed:    failed,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("writer"),
		successCh: make(chan harvest.Resolution, cfg.Buffer),
		failureCh: make(chan harvest.Failure, cfg.Buffer),
		records:   make(map[string]harvest.Resolution),
		failures:  make(map[string]harvest.Failure),
	}
}

// Resolved hands a record to the success sink.
func (w *Writer) Resolved(ctx context.Context, res harvest.Resolution) error {
	select {
	case w.successCh <- res:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue resolved %s: %w", res.Record.ID, ctx.Err())
	}
}

// Failed hands a failure to the failure sink.
func (w *Writer) Failed(ctx context.Context, failure harvest.Failure) error {
	select {
	case w.failureCh <- failure:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue failed %s: %w", failure.ID, ctx.Err())
	}
}

// CloseInputs closes both sinks. It must only be called once no producer can
// send anymore; the drains then finish what is buffered and return.
func (w *Writer) CloseInputs() {
	w.closeOnce.Do(func() {
		close(w.successCh)
		close(w.failureCh)
	})
}

// DrainResolved runs the success sink until its input is closed. Buffered
// records are still persisted after ctx is canceled. A storage error stops
// the drain.
func (w *Writer) DrainResolved(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for res := range w.successCh {
		if err := w.persist(ctx, res); err != nil {
			return err
		}
		w.records[res.Record.ID] = res
	}
	return nil
}

// DrainFailed runs the failure sink until its input is closed.
func (w *Writer) DrainFailed(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for f := range w.failureCh {
		if err := w.failed.Append(ctx, f.ID); err != nil {
			return fmt.Errorf("record failure %s: %w", f.ID, asStorage(err))
		}
		w.failures[f.ID] = f
	}
	return nil
}

// Records returns the resolved records by identifier. Call only after
// DrainResolved has returned.
func (w *Writer) Records() map[string]harvest.Resolution {
	return w.records
}

// Failures returns failures by identifier. Call only after DrainFailed has returned.
func (w *Writer) Failures() map[string]harvest.Failure {
	return w.failures
}

func (w *Writer) persist(ctx context.Context, res harvest.Resolution) error {
	rec := res.Record
	logger := w.logger.With(zap.String("object_id", rec.ID))

	for _, asset := range rec.Assets {
		if !asset.Pending() {
			continue
		}
		if _, err := w.store.PutObject(ctx, asset.Name, jpegContentType, bytes.NewReader(asset.Data)); err != nil {
			return fmt.Errorf("write asset %s: %w", asset.Name, asStorage(err))
		}
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	uri, err := w.store.PutObject(ctx, harvest.RecordFileName(rec.ID), jsonContentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, asStorage(err))
	}

	if err := w.resolved.Append(ctx, rec.ID); err != nil {
		return fmt.Errorf("checkpoint %s: %w", rec.ID, asStorage(err))
	}
	logger.Debug("record stored", zap.String("uri", uri))

	w.notify(ctx, res, uri, logger)
	return nil
}

// notify publishes a notification. Publish errors are only logged.
func (w *Writer) notify(ctx context.Context, res harvest.Resolution, uri string, logger *zap.Logger) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	msg := Notification{
		RunID:    w.cfg.RunID,
		Site:     res.Record.Site,
		ObjectID: res.Record.ID,
		Record:   uri,
		Assets:   res.Record.AssetNames(),
		Attempts: res.Attempts,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, msg); err != nil {
		logger.Warn("publish notification failed", zap.Error(err))
	}
}

func asStorage(err error) error {
	if errors.Is(err, harvest.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", harvest.ErrStorage, err)
}
