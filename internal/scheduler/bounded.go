package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// Bounded keeps at most limit fetches in flight. Permits are requested in
// page order and semaphore.Weighted grants waiters FIFO, so pages start in
// ascending order.
type Bounded struct {
	limit  int
	logger *zap.Logger
}

// Mode implements Scheduler.
func (*Bounded) Mode() ranking.Mode { return ranking.ModeBounded }

// Limit reports the in-flight cap.
func (b *Bounded) Limit() int { return b.limit }

// Schedule implements Scheduler.
func (b *Bounded) Schedule(
	ctx context.Context,
	totalPages int,
	params ranking.FetchParams,
	fetch ranking.PageFetcher,
) []ranking.PageResult {
	all := jobs(totalPages, params)
	results := make([]ranking.PageResult, len(all))
	sem := semaphore.NewWeighted(int64(b.limit))

	var g errgroup.Group
	for i, job := range all {
		if err := sem.Acquire(ctx, 1); err != nil {
			b.logger.Warn("bounded dispatch stopped",
				zap.Int("dispatched", i),
				zap.Int("total", len(all)),
				zap.Error(err),
			)
			copy(results[i:], abandoned(ctx, all[i:]))
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = runJob(ctx, fetch, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
