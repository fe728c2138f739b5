package orchestrator

import (
	"context"
	"time"

	"github.com/JakeFAU/keyword-rank-collector/internal/metrics"
	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// instrumentedFetcher wraps the worker with page events and metrics.
type instrumentedFetcher struct {
	next    ranking.PageFetcher
	runID   string
	mode    string
	emitter progress.Emitter
}

func (f *instrumentedFetcher) Fetch(ctx context.Context, job ranking.PageJob) ranking.PageResult {
	start := time.Now()
	f.emitter.Emit(progress.Event{
		RunID: f.runID,
		TS:    start,
		Stage: progress.StagePageStart,
		Mode:  f.mode,
		Page:  job.PageNumber,
	})
	metrics.IncPagesInFlight()
	defer metrics.DecPagesInFlight()

	res := f.next.Fetch(ctx, job)

	elapsed := time.Since(start)
	outcome := "success"
	if !res.Success {
		outcome = res.Error
		if outcome != ranking.ErrorCodeTimeout && outcome != ranking.ErrorCodeUpstreamUnstable {
			outcome = "error"
		}
	}
	metrics.ObservePage(f.mode, outcome, elapsed)
	f.emitter.Emit(progress.Event{
		RunID:    f.runID,
		TS:       time.Now(),
		Stage:    progress.StagePageDone,
		Mode:     f.mode,
		Page:     job.PageNumber,
		Success:  res.Success,
		Keywords: len(res.Keywords),
		Dur:      elapsed,
		Note:     res.Error,
	})
	return res
}
