// Package scheduler fans page jobs out to a PageFetcher under one of three
// concurrency disciplines. Every Schedule call returns exactly one result per
// page, in page order, whatever happens to individual fetches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// Defaults applied when Options leave a knob at zero.
const (
	DefaultConcurrencyLimit = 3
	DefaultBatchSize        = 5
	DefaultBatchDelay       = time.Second
)

// Scheduler runs pages 1..totalPages through fetch.
type Scheduler interface {
	Mode() ranking.Mode
	Schedule(ctx context.Context, totalPages int, params ranking.FetchParams, fetch ranking.PageFetcher) []ranking.PageResult
}

// Options tunes the bounded and batched schedulers.
type Options struct {
	ConcurrencyLimit int
	BatchSize        int
	// BatchDelay is the pause between consecutive batches. Zero disables it.
	BatchDelay time.Duration
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// New returns the scheduler for mode.
func New(mode ranking.Mode, opts Options) (Scheduler, error) {
	opts = opts.withDefaults()
	switch mode {
	case ranking.ModeFullParallel:
		return &FullParallel{}, nil
	case ranking.ModeBounded:
		return &Bounded{limit: opts.ConcurrencyLimit, logger: opts.Logger}, nil
	case ranking.ModeBatched:
		b := &Batched{size: opts.BatchSize, delay: opts.BatchDelay, logger: opts.Logger}
		b.runBatch = b.runConcurrently
		return b, nil
	default:
		return nil, &ranking.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
}

func jobs(totalPages int, params ranking.FetchParams) []ranking.PageJob {
	out := make([]ranking.PageJob, totalPages)
	for i := range out {
		out[i] = ranking.PageJob{PageNumber: i + 1, Params: params}
	}
	return out
}

// runJob isolates one fetch: a panic becomes a failed result and the page
// number is pinned to the job's.
func runJob(ctx context.Context, fetch ranking.PageFetcher, job ranking.PageJob) (res ranking.PageResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = ranking.FailedPage(job.PageNumber, fmt.Sprintf("worker panic: %v", r), time.Since(start))
		}
	}()
	res = fetch.Fetch(ctx, job)
	res.PageNumber = job.PageNumber
	if !res.Success && res.Error == "" {
		res.Error = "unknown error"
	}
	return res
}

// abandoned marks jobs that were never dispatched because ctx ended.
func abandoned(ctx context.Context, pending []ranking.PageJob) []ranking.PageResult {
	reason := "canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = ranking.ErrorCodeTimeout
	}
	out := make([]ranking.PageResult, len(pending))
	for i, job := range pending {
		out[i] = ranking.FailedPage(job.PageNumber, reason, 0)
	}
	return out
}
