// Package worker implements the single-page fetch unit handed to schedulers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// DefaultTimeout bounds one upstream call.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgents is the fixed pool a User-Agent is drawn from per call.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// Limiter paces upstream calls. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Config controls Worker behavior.
type Config struct {
	Timeout    time.Duration
	UserAgents []string
	// LimiterKey selects the limiter bucket, usually the upstream endpoint.
	LimiterKey string
}

// Worker performs exactly one upstream call per page job and never fails
// outward: every outcome becomes a PageResult.
type Worker struct {
	upstream ranking.Upstream
	limiter  Limiter
	cfg      Config
	logger   *zap.Logger
}

var _ ranking.PageFetcher = (*Worker)(nil)

// New constructs a Worker. limiter may be nil.
func New(upstream ranking.Upstream, limiter Limiter, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		upstream: upstream,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

type callOutcome struct {
	rows []ranking.KeywordRank
	err  error
}

// Fetch runs one page job. It returns within roughly cfg.Timeout even when the
// upstream ignores cancellation.
func (w *Worker) Fetch(ctx context.Context, job ranking.PageJob) ranking.PageResult {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	if w.limiter != nil {
		if err := w.limiter.Wait(callCtx, w.cfg.LimiterKey); err != nil {
			return w.fail(job, classify(callCtx, err), start)
		}
	}

	call := ranking.PageCall{
		PageNumber: job.PageNumber,
		Params:     job.Params,
		UserAgent:  w.pickUserAgent(),
	}

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("upstream panic: %v", r)}
			}
		}()
		rows, err := w.upstream.FetchPage(callCtx, call)
		done <- callOutcome{rows: rows, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = callOutcome{err: callCtx.Err()}
	}

	if out.err != nil {
		return w.fail(job, classify(callCtx, out.err), start)
	}
	rows := out.rows
	if rows == nil {
		rows = []ranking.KeywordRank{}
	}
	elapsed := time.Since(start)
	w.logger.Debug("page fetched",
		zap.Int("page", job.PageNumber),
		zap.Int("keywords", len(rows)),
		zap.Duration("elapsed", elapsed),
	)
	return ranking.PageResult{
		PageNumber: job.PageNumber,
		Success:    true,
		Keywords:   rows,
		ElapsedMs:  elapsed.Milliseconds(),
	}
}

func (w *Worker) fail(job ranking.PageJob, errText string, start time.Time) ranking.PageResult {
	elapsed := time.Since(start)
	w.logger.Warn("page fetch failed",
		zap.Int("page", job.PageNumber),
		zap.String("error", errText),
		zap.Duration("elapsed", elapsed),
	)
	return ranking.FailedPage(job.PageNumber, errText, elapsed)
}

func (w *Worker) pickUserAgent() string {
	return w.cfg.UserAgents[rand.IntN(len(w.cfg.UserAgents))]
}

// classify maps an upstream error onto the page error text.
func classify(callCtx context.Context, err error) string {
	switch {
	case errors.Is(err, ranking.ErrUpstreamUnstable):
		return ranking.ErrorCodeUpstreamUnstable
	case errors.Is(err, ranking.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return ranking.ErrorCodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ranking.ErrorCodeTimeout
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "unknown upstream error"
}
