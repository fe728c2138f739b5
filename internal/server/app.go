// Package server builds the collector's dependency graph from configuration
// and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/api"
	rediscache "github.com/JakeFAU/keyword-rank-collector/internal/cache/redis"
	"github.com/JakeFAU/keyword-rank-collector/internal/clock/system"
	"github.com/JakeFAU/keyword-rank-collector/internal/collect"
	"github.com/JakeFAU/keyword-rank-collector/internal/config"
	collyfetcher "github.com/JakeFAU/keyword-rank-collector/internal/fetcher/colly"
	"github.com/JakeFAU/keyword-rank-collector/internal/hash/sha256"
	"github.com/JakeFAU/keyword-rank-collector/internal/id/uuid"
	"github.com/JakeFAU/keyword-rank-collector/internal/logging"
	"github.com/JakeFAU/keyword-rank-collector/internal/metrics"
	"github.com/JakeFAU/keyword-rank-collector/internal/orchestrator"
	"github.com/JakeFAU/keyword-rank-collector/internal/policy/ratelimit"
	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
	progresssinks "github.com/JakeFAU/keyword-rank-collector/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/keyword-rank-collector/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/keyword-rank-collector/internal/publisher/pubsub"
	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
	gcsstorage "github.com/JakeFAU/keyword-rank-collector/internal/storage/gcs"
	localstorage "github.com/JakeFAU/keyword-rank-collector/internal/storage/local"
	memorystorage "github.com/JakeFAU/keyword-rank-collector/internal/storage/memory"
	pgstore "github.com/JakeFAU/keyword-rank-collector/internal/storage/postgres"
	"github.com/JakeFAU/keyword-rank-collector/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	collector *collect.Service
	hub       *progress.Hub
	tracker   *progresssinks.Tracker
	checks    map[string]api.ReadinessCheck
	closers   []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

// Build creates the application's dependencies. reg receives the progress
// collectors; nil means the default registerer.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.ReadinessCheck{},
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("default_mode", cfg.Orchestrator.DefaultMode),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	store, err := app.setupRunStore(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	cache, err := app.setupCache(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	emitter, err := app.setupProgress(ctx, reg)
	if err != nil {
		return nil, app.abort(err)
	}
	orch, err := app.setupOrchestrator(emitter)
	if err != nil {
		return nil, app.abort(err)
	}

	deps := collect.Deps{
		Runner:    orch,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Store:     store,
		Blobs:     blobs,
		Publisher: publisher,
	}
	if cache != nil {
		deps.Cache = cache
		deps.CacheKey = sha256.New().RequestKey
	}
	app.collector, err = collect.NewService(deps, collect.Config{
		Topic:         cfg.PubSub.TopicName,
		ArchivePrefix: cfg.Storage.Prefix,
	}, logging.Named(logger, "collect"))
	if err != nil {
		return nil, app.abort(fmt.Errorf("collect service init failed: %w", err))
	}

	var progressReader api.ProgressReader
	if app.tracker != nil {
		progressReader = app.tracker
	}
	app.apiServer = api.NewServer(app.collector, progressReader, logging.Named(logger, "api"), api.Options{
		RequestTimeout: cfg.RequestTimeout(),
		Checks:         app.checks,
	})
	return app, nil
}

// Collector exposes the collect service for one-shot CLI runs.
func (a *App) Collector() *collect.Service {
	return a.collector
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled, then drains and closes dependencies.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	return closeErr
}

// Close releases dependencies in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Close(ctx)
	return err
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) onCloseIO(name string, c io.Closer) {
	a.onClose(name, func(context.Context) error { return c.Close() })
}

func (a *App) setupRunStore(ctx context.Context) (ranking.ResultStore, error) {
	db := a.cfg.Database
	if db.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping runs in memory",
			zap.Int("capacity", db.MemoryCapacity))
		return memorystorage.NewRunStore(db.MemoryCapacity), nil
	}
	if db.Migrate {
		if err := pgstore.Migrate(db.DSN, db.Table); err != nil {
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database migrations applied")
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:      db.DSN,
		Table:    db.Table,
		MaxConns: int32(db.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		store.Close()
		return nil
	})
	a.checks["postgres"] = store.Ping
	a.logger.Info("postgres run store initialized", zap.String("table", db.Table))
	return store, nil
}

func (a *App) setupBlobStore(ctx context.Context) (ranking.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket, VerifyBucket: true})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onCloseIO("gcs", blobs)
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Storage.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory archive")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (ranking.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, ps.ProjectID, ps.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onCloseIO("pubsub", pub)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return pub, nil
}

func (a *App) setupCache(ctx context.Context) (*rediscache.Cache, error) {
	c := a.cfg.Cache
	if c.RedisAddr == "" {
		a.logger.Info("response cache disabled")
		return nil, nil
	}
	cache, err := rediscache.New(ctx, rediscache.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		TTL:      a.cfg.CacheTTL(),
		Prefix:   c.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache init failed: %w", err)
	}
	a.onCloseIO("redis", cache)
	a.checks["redis"] = cache.Ping
	a.logger.Info("redis response cache enabled", zap.Duration("ttl", a.cfg.CacheTTL()))
	return cache, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	p := a.cfg.Progress
	if !p.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	a.tracker = progresssinks.NewTracker(p.TrackerCapacity)
	sinkList := []progress.Sink{a.tracker}

	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if p.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(logging.Named(a.logger, "progress_log")))
	}

	hubCfg := progress.Config{
		BufferSize:     p.BufferSize,
		MaxBatchEvents: p.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(p.Batch.MaxWaitMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         logging.Named(a.logger, "progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.onClose("progress", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub, nil
}

func (a *App) setupOrchestrator(emitter progress.Emitter) (*orchestrator.Orchestrator, error) {
	up := a.cfg.Upstream
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		Endpoint:           up.BaseURL,
		Timeout:            a.cfg.UpstreamTimeout(),
		InstabilityMarkers: a.cfg.Orchestrator.InstabilityMarkers,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream client init failed: %w", err)
	}

	var limiter worker.Limiter
	if rl := a.cfg.RateLimit; rl.Enabled {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: rl.RPS, DefaultBurst: rl.Burst})
		a.logger.Info("rate limiter enabled", zap.Float64("rps", rl.RPS), zap.Int("burst", rl.Burst))
	}

	w := worker.New(fetcher, limiter, worker.Config{
		Timeout:    a.cfg.UpstreamTimeout(),
		UserAgents: up.UserAgents,
		LimiterKey: up.BaseURL,
	}, logging.Named(a.logger, "worker"))

	oc := a.cfg.Orchestrator
	opts := []orchestrator.Option{orchestrator.WithIDGenerator(uuid.New())}
	if emitter != nil {
		opts = append(opts, orchestrator.WithEmitter(emitter))
	}
	return orchestrator.New(w, orchestrator.Config{
		DefaultMode:      ranking.Mode(oc.DefaultMode),
		ConcurrencyLimit: oc.ConcurrencyLimit,
		BatchSize:        oc.BatchSize,
		BatchDelay:       a.cfg.BatchDelay(),
		GlobalDeadline:   a.cfg.GlobalDeadline(),
	}, logging.Named(a.logger, "orchestrator"), opts...), nil
}
