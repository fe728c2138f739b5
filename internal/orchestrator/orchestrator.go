// Package orchestrator drives one ranking collection: it validates the
// request, runs the selected scheduler behind a panic guard, merges the page
// results and shapes the response.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/aggregator"
	idgen "github.com/JakeFAU/keyword-rank-collector/internal/id/uuid"
	"github.com/JakeFAU/keyword-rank-collector/internal/metrics"
	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
	"github.com/JakeFAU/keyword-rank-collector/internal/scheduler"
)

// Config holds orchestration defaults. Request fields override them.
type Config struct {
	DefaultMode      ranking.Mode
	ConcurrencyLimit int
	BatchSize        int
	BatchDelay       time.Duration
	// GlobalDeadline bounds a whole run. Zero means no deadline.
	GlobalDeadline time.Duration
}

// SchedulerFactory builds the scheduler for a mode.
type SchedulerFactory func(mode ranking.Mode, opts scheduler.Options) (scheduler.Scheduler, error)

// Orchestrator turns a Request into a Response.
type Orchestrator struct {
	fetcher      ranking.PageFetcher
	cfg          Config
	emitter      progress.Emitter
	ids          ranking.IDGenerator
	newScheduler SchedulerFactory
	logger       *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sends run and page milestones to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithIDGenerator sets the run id source used by Run.
func WithIDGenerator(ids ranking.IDGenerator) Option {
	return func(o *Orchestrator) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithSchedulerFactory replaces scheduler.New.
func WithSchedulerFactory(f SchedulerFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newScheduler = f
		}
	}
}

// New constructs an Orchestrator around fetcher.
func New(fetcher ranking.PageFetcher, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ranking.ModeBounded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		fetcher:      fetcher,
		cfg:          cfg,
		emitter:      progress.Nop{},
		ids:          idgen.New(),
		newScheduler: scheduler.New,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes req under a freshly generated run id.
func (o *Orchestrator) Run(ctx context.Context, req ranking.Request) (ranking.Response, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return ranking.Response{}, fmt.Errorf("generate run id: %w", err)
	}
	return o.RunWithID(ctx, runID, req)
}

// RunWithID executes req. The returned error is non-nil only when the request
// is invalid, in which case no page was dispatched; the Response is always
// well formed.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, req ranking.Request) (ranking.Response, error) {
	start := time.Now()
	req = o.Normalize(req)
	if err := req.Validate(); err != nil {
		o.logger.Info("rejected orchestration request", zap.String("run_id", runID), zap.Error(err))
		return rejected(req, err, time.Since(start)), err
	}
	sched, err := o.newScheduler(req.Mode, scheduler.Options{
		ConcurrencyLimit: req.ConcurrencyLimit,
		BatchSize:        req.BatchSize,
		BatchDelay:       o.cfg.BatchDelay,
		Logger:           o.logger,
	})
	if err != nil {
		if !errors.Is(err, ranking.ErrInvalidRequest) {
			err = &ranking.ValidationError{Field: "mode", Reason: err.Error()}
		}
		return rejected(req, err, time.Since(start)), err
	}

	if o.cfg.GlobalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.GlobalDeadline)
		defer cancel()
	}

	mode := string(req.Mode)
	o.logger.Info("orchestration started",
		zap.String("run_id", runID),
		zap.String("mode", mode),
		zap.Int("total_pages", req.TotalPages),
	)
	o.emitter.Emit(progress.Event{
		RunID:      runID,
		TS:         time.Now(),
		Stage:      progress.StageRunStart,
		Mode:       mode,
		TotalPages: req.TotalPages,
	})

	fetch := &instrumentedFetcher{next: o.fetcher, runID: runID, mode: mode, emitter: o.emitter}
	results, schedErr := o.schedule(ctx, sched, req, fetch)

	var resp ranking.Response
	if schedErr != nil {
		o.logger.Error("scheduler failed", zap.String("run_id", runID), zap.Error(schedErr))
		resp = ranking.Response{
			Success:         false,
			Keywords:        []ranking.KeywordRank{},
			TotalPages:      req.TotalPages,
			SuccessfulPages: 0,
			FailedPages:     req.TotalPages,
			Errors:          []string{schedErr.Error()},
			Message:         fmt.Sprintf("0/%d succeeded", req.TotalPages),
		}
	} else {
		merged := aggregator.Aggregate(results)
		resp = ranking.Response{
			Success:         merged.SuccessfulPages > 0,
			Keywords:        merged.Keywords,
			TotalPages:      req.TotalPages,
			SuccessfulPages: merged.SuccessfulPages,
			FailedPages:     merged.FailedPages,
			Errors:          merged.Errors,
			Message:         fmt.Sprintf("%d/%d succeeded", merged.SuccessfulPages, req.TotalPages),
		}
	}
	elapsed := time.Since(start)
	resp.ProcessingTimeMs = elapsed.Milliseconds()

	result := "failure"
	if resp.Success {
		result = "success"
	}
	metrics.ObserveRun(mode, result, elapsed)
	o.emitter.Emit(progress.Event{
		RunID:      runID,
		TS:         time.Now(),
		Stage:      progress.StageRunDone,
		Mode:       mode,
		TotalPages: req.TotalPages,
		Success:    resp.Success,
		Keywords:   len(resp.Keywords),
		Dur:        elapsed,
		Note:       resp.Message,
	})
	o.logger.Info("orchestration finished",
		zap.String("run_id", runID),
		zap.String("mode", mode),
		zap.Int("total_pages", resp.TotalPages),
		zap.Int("successful_pages", resp.SuccessfulPages),
		zap.Int("failed_pages", resp.FailedPages),
		zap.Int("keywords", len(resp.Keywords)),
		zap.Duration("duration", elapsed),
	)
	return resp, nil
}

// schedule runs sched and converts anything escaping it into a
// SchedulerInternalError.
func (o *Orchestrator) schedule(
	ctx context.Context,
	sched scheduler.Scheduler,
	req ranking.Request,
	fetch ranking.PageFetcher,
) (results []ranking.PageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = &ranking.SchedulerInternalError{Mode: req.Mode, Cause: r}
		}
	}()
	results = sched.Schedule(ctx, req.TotalPages, req.FetchParams, fetch)
	if len(results) != req.TotalPages {
		return nil, &ranking.SchedulerInternalError{
			Mode:  req.Mode,
			Cause: fmt.Sprintf("returned %d results for %d pages", len(results), req.TotalPages),
		}
	}
	return results, nil
}

// Normalize fills zero-valued mode and limits from the configured defaults.
func (o *Orchestrator) Normalize(req ranking.Request) ranking.Request {
	if req.Mode == "" {
		req.Mode = o.cfg.DefaultMode
	}
	if req.ConcurrencyLimit == 0 {
		req.ConcurrencyLimit = o.cfg.ConcurrencyLimit
	}
	if req.BatchSize == 0 {
		req.BatchSize = o.cfg.BatchSize
	}
	return req
}

func rejected(req ranking.Request, err error, elapsed time.Duration) ranking.Response {
	return ranking.Response{
		Success:          false,
		Keywords:         []ranking.KeywordRank{},
		TotalPages:       req.TotalPages,
		Errors:           []string{err.Error()},
		ProcessingTimeMs: elapsed.Milliseconds(),
		Message:          err.Error(),
	}
}
