package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
)

func TestTrackerFoldsRun(t *testing.T) {
	t.Parallel()

	tr := NewTracker(4)
	now := time.Now()
	require.NoError(t, tr.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart, Mode: "batched", TotalPages: 3},
		{RunID: "r1", TS: now, Stage: progress.StagePageStart, Page: 1},
		{RunID: "r1", TS: now, Stage: progress.StagePageStart, Page: 2},
		{RunID: "r1", TS: now, Stage: progress.StagePageDone, Page: 1, Success: true, Keywords: 20},
		{RunID: "r1", TS: now, Stage: progress.StagePageDone, Page: 2, Note: "timeout"},
	}))

	got, ok := tr.Get("r1")
	require.True(t, ok)
	require.Equal(t, "batched", got.Mode)
	require.Equal(t, 3, got.TotalPages)
	require.Equal(t, 2, got.PagesStarted)
	require.Equal(t, 1, got.PagesSucceeded)
	require.Equal(t, 1, got.PagesFailed)
	require.Equal(t, 20, got.KeywordsFetched)
	require.False(t, got.Done)

	require.NoError(t, tr.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Success: true, Note: "1/3 succeeded"},
	}))
	got, _ = tr.Get("r1")
	require.True(t, got.Done)
	require.Equal(t, "1/3 succeeded", got.Message)
}

func TestTrackerEvictsOldest(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, tr.Consume(context.Background(), []progress.Event{
			{RunID: id, TS: time.Now(), Stage: progress.StageRunStart},
		}))
	}
	_, ok := tr.Get("a")
	require.False(t, ok)
	_, ok = tr.Get("c")
	require.True(t, ok)
}

func TestLogSinkConsume(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: time.Now(), Stage: progress.StagePageStart, Page: 1},
		{RunID: "r", TS: time.Now(), Stage: progress.StagePageDone, Page: 1, Note: "timeout"},
	}))
	require.NoError(t, sink.Close(context.Background()))
}
