package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/progress"
)

// LogSink writes each event as a structured log line. Failures and run
// errors log at warn, everything else at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
		}
		if evt.IsItem() {
			fields = append(fields, zap.String("object_id", evt.ObjectID), zap.Int("attempt", evt.Attempt))
		}
		if evt.Items > 0 {
			fields = append(fields, zap.Int("items", evt.Items))
		}
		if evt.Assets > 0 {
			fields = append(fields, zap.Int("assets", evt.Assets))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageItemFailed, progress.StageRunError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
