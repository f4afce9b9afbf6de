package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-harvester/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleRun()))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("vanda", "resolved")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.items.WithLabelValues("vanda", "retry")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues("vanda", "failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.assets.WithLabelValues("vanda")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvest_run_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestSnapshotSinkTracksRun(t *testing.T) {
	t.Parallel()

	sink := NewSnapshotSink()
	require.NoError(t, sink.Consume(context.Background(), sampleRun()))

	snap, ok := sink.Run("run-1")
	require.True(t, ok)
	require.Equal(t, "done", snap.State)
	require.Equal(t, 2, snap.Seeded)
	require.Equal(t, 1, snap.Resolved)
	require.Equal(t, 2, snap.Retries)
	require.Equal(t, 1, snap.Failed)
	require.Equal(t, 3, snap.Assets)
	require.Equal(t, "http 503", snap.LastError)
	require.Len(t, sink.Runs(), 1)

	_, ok = sink.Run("missing")
	require.False(t, ok)
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), sampleRun()))
	require.NoError(t, sink.Close(context.Background()))
}

func sampleRun() []progress.Event {
	now := time.Now()
	item := func(id string, stage progress.Stage, attempt int) progress.Event {
		return progress.Event{
			RunID: "run-1", TS: now, Stage: stage, Site: "vanda",
			ObjectID: id, Attempt: attempt, Dur: 100 * time.Millisecond,
		}
	}
	resolved := item("O1", progress.StageItemResolved, 0)
	resolved.Assets = 3
	failed := item("O2", progress.StageItemFailed, 2)
	failed.Note = "http 503"
	return []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart, Site: "vanda", Items: 2},
		resolved,
		item("O2", progress.StageItemRetry, 0),
		item("O2", progress.StageItemRetry, 1),
		failed,
		{RunID: "run-1", TS: now.Add(time.Second), Stage: progress.StageRunDone, Site: "vanda", Items: 1, Dur: time.Second},
	}
}
