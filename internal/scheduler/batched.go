package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// Batched runs consecutive batches of size pages. A batch starts only after
// the previous one fully settled and the inter-batch delay elapsed.
type Batched struct {
	size   int
	delay  time.Duration
	logger *zap.Logger

	// runBatch executes one batch; replaced in tests to simulate a batch
	// that blows up as a whole.
	runBatch func(ctx context.Context, batch []ranking.PageJob, fetch ranking.PageFetcher) []ranking.PageResult
}

// Mode implements Scheduler.
func (*Batched) Mode() ranking.Mode { return ranking.ModeBatched }

// Size reports the batch size.
func (b *Batched) Size() int { return b.size }

// Schedule implements Scheduler.
func (b *Batched) Schedule(
	ctx context.Context,
	totalPages int,
	params ranking.FetchParams,
	fetch ranking.PageFetcher,
) []ranking.PageResult {
	all := jobs(totalPages, params)
	results := make([]ranking.PageResult, 0, len(all))

	for start := 0; start < len(all); start += b.size {
		end := min(start+b.size, len(all))
		if start > 0 && !b.pause(ctx) {
			return append(results, abandoned(ctx, all[start:])...)
		}
		if ctx.Err() != nil {
			return append(results, abandoned(ctx, all[start:])...)
		}
		batch := all[start:end]
		b.logger.Debug("batch started",
			zap.Int("first_page", batch[0].PageNumber),
			zap.Int("size", len(batch)),
		)
		results = append(results, b.safeBatch(ctx, batch, fetch)...)
	}
	return results
}

// safeBatch turns a failure of the batch as a whole into failed results for
// every page in it.
func (b *Batched) safeBatch(
	ctx context.Context,
	batch []ranking.PageJob,
	fetch ranking.PageFetcher,
) (out []ranking.PageResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("batch failed",
				zap.Int("first_page", batch[0].PageNumber),
				zap.Any("panic", r),
			)
			errText := fmt.Sprintf("batch failed: %v", r)
			out = make([]ranking.PageResult, len(batch))
			for i, job := range batch {
				out[i] = ranking.FailedPage(job.PageNumber, errText, time.Since(start))
			}
		}
	}()
	out = b.runBatch(ctx, batch, fetch)
	if len(out) != len(batch) {
		panic(fmt.Sprintf("batch returned %d results for %d pages", len(out), len(batch)))
	}
	return out
}

func (b *Batched) runConcurrently(
	ctx context.Context,
	batch []ranking.PageJob,
	fetch ranking.PageFetcher,
) []ranking.PageResult {
	out := make([]ranking.PageResult, len(batch))
	var g errgroup.Group
	for i, job := range batch {
		g.Go(func() error {
			out[i] = runJob(ctx, fetch, job)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (b *Batched) pause(ctx context.Context) bool {
	if b.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
