package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// FullParallel dispatches every page at once and waits for all of them.
type FullParallel struct{}

// Mode implements Scheduler.
func (*FullParallel) Mode() ranking.Mode { return ranking.ModeFullParallel }

// Schedule implements Scheduler.
func (*FullParallel) Schedule(
	ctx context.Context,
	totalPages int,
	params ranking.FetchParams,
	fetch ranking.PageFetcher,
) []ranking.PageResult {
	all := jobs(totalPages, params)
	results := make([]ranking.PageResult, len(all))

	var g errgroup.Group
	for i, job := range all {
		g.Go(func() error {
			results[i] = runJob(ctx, fetch, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
