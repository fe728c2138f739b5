package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Stage: progress.StageRunStart, Mode: "bounded", TotalPages: 2},
		{RunID: "run-1", TS: now, Stage: progress.StagePageDone, Mode: "bounded", Page: 1, Success: true},
		{RunID: "run-1", TS: now, Stage: progress.StagePageDone, Mode: "bounded", Page: 2},
		{RunID: "run-1", TS: now, Stage: progress.StageRunDone, Mode: "bounded", Success: true, Dur: 3 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("bounded", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("bounded", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesDone.WithLabelValues("bounded", "failure")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "rank_progress_run_seconds"))
}

func TestPrometheusSinkActiveGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	start := progress.Event{RunID: "run-2", TS: time.Now(), Stage: progress.StageRunStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
