// Package collect wraps the orchestrator with the response cache and the
// result sinks: every run is stored, successful runs are cached, archived and
// announced.
package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/metrics"
	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const defaultSinkTimeout = 15 * time.Second

// Runner is the orchestrator surface the service needs.
type Runner interface {
	Normalize(req ranking.Request) ranking.Request
	RunWithID(ctx context.Context, runID string, req ranking.Request) (ranking.Response, error)
}

// KeyFunc derives the cache key of a normalized request.
type KeyFunc func(req ranking.Request) (string, error)

// Config controls the sinks.
type Config struct {
	Topic         string
	ArchivePrefix string
	SinkTimeout   time.Duration
}

// Deps are the collaborators of a Service. Only Runner and IDs are required.
type Deps struct {
	Runner    Runner
	IDs       ranking.IDGenerator
	Clock     ranking.Clock
	Store     ranking.ResultStore
	Blobs     ranking.BlobStore
	Publisher ranking.Publisher
	Cache     ranking.ResponseCache
	CacheKey  KeyFunc
}

// Run is the outcome of one Collect call.
type Run struct {
	ID       string
	Cached   bool
	Response ranking.Response
}

// CompletionNotice is published after a successful run.
type CompletionNotice struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	TotalPages      int       `json:"total_pages"`
	SuccessfulPages int       `json:"successful_pages"`
	FailedPages     int       `json:"failed_pages"`
	KeywordCount    int       `json:"keyword_count"`
	BlobURI         string    `json:"blob_uri,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Service coordinates one collection end to end.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewService validates deps and returns a Service.
func NewService(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("collect service: runner is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("collect service: id generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Cache != nil && deps.CacheKey == nil {
		return nil, fmt.Errorf("collect service: cache key func is required with a cache")
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Collect serves req from cache or runs it. The error is non-nil only for
// invalid requests and id generation failures; Run.Response is always set.
func (s *Service) Collect(ctx context.Context, req ranking.Request) (Run, error) {
	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return Run{}, fmt.Errorf("generate run id: %w", err)
	}
	norm := s.deps.Runner.Normalize(req)

	cacheKey := ""
	if s.deps.Cache != nil && norm.Validate() == nil {
		cacheKey, err = s.deps.CacheKey(norm)
		if err != nil {
			s.logger.Warn("cache key failed", zap.String("run_id", runID), zap.Error(err))
			cacheKey = ""
		}
	}
	if cacheKey != "" {
		if resp, ok := s.lookup(ctx, runID, cacheKey); ok {
			return Run{ID: runID, Cached: true, Response: resp}, nil
		}
	}

	startedAt := s.deps.Clock.Now()
	resp, err := s.deps.Runner.RunWithID(ctx, runID, norm)
	if err != nil {
		return Run{ID: runID, Response: resp}, err
	}
	record := ranking.RunRecord{
		RunID:      runID,
		Request:    norm,
		Response:   resp,
		StartedAt:  startedAt,
		FinishedAt: s.deps.Clock.Now(),
	}

	// Sinks outlive a client that hung up after the run finished.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SinkTimeout)
	defer cancel()
	s.deliver(sinkCtx, record, cacheKey)

	return Run{ID: runID, Response: resp}, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (ranking.RunRecord, error) {
	if s.deps.Store == nil {
		return ranking.RunRecord{}, ranking.ErrRunNotFound
	}
	rec, err := s.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return ranking.RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns stored runs newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]ranking.RunRecord, error) {
	if s.deps.Store == nil {
		return []ranking.RunRecord{}, nil
	}
	runs, err := s.deps.Store.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *Service) lookup(ctx context.Context, runID, key string) (ranking.Response, bool) {
	resp, ok, err := s.deps.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.ObserveCacheLookup("error")
		s.logger.Warn("cache lookup failed", zap.String("run_id", runID), zap.Error(err))
		return ranking.Response{}, false
	case !ok:
		metrics.ObserveCacheLookup("miss")
		return ranking.Response{}, false
	}
	metrics.ObserveCacheLookup("hit")
	s.logger.Info("served from cache", zap.String("run_id", runID))
	return resp, true
}

func (s *Service) deliver(ctx context.Context, record ranking.RunRecord, cacheKey string) {
	fields := []zap.Field{zap.String("run_id", record.RunID)}
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveRun(ctx, record); err != nil {
			s.logger.Error("save run failed", append(fields, zap.Error(err))...)
		}
	}
	if !record.Response.Success {
		return
	}
	if cacheKey != "" {
		if err := s.deps.Cache.Set(ctx, cacheKey, record.Response); err != nil {
			s.logger.Warn("cache store failed", append(fields, zap.Error(err))...)
		}
	}
	blobURI := s.archive(ctx, record)
	s.publish(ctx, record, blobURI)
}

func (s *Service) archive(ctx context.Context, record ranking.RunRecord) string {
	if s.deps.Blobs == nil {
		return ""
	}
	body, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("encode run archive failed", zap.String("run_id", record.RunID), zap.Error(err))
		return ""
	}
	uri, err := s.deps.Blobs.PutObject(ctx, s.archivePath(record.RunID), "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Error("archive run failed", zap.String("run_id", record.RunID), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) archivePath(runID string) string {
	prefix := strings.Trim(s.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return runID + ".json"
	}
	return prefix + "/" + runID + ".json"
}

func (s *Service) publish(ctx context.Context, record ranking.RunRecord, blobURI string) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	resp := record.Response
	notice := CompletionNotice{
		RunID:           record.RunID,
		Mode:            string(record.Request.Mode),
		TotalPages:      resp.TotalPages,
		SuccessfulPages: resp.SuccessfulPages,
		FailedPages:     resp.FailedPages,
		KeywordCount:    len(resp.Keywords),
		BlobURI:         blobURI,
		Timestamp:       record.FinishedAt,
	}
	msgID, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, notice)
	if err != nil {
		s.logger.Error("publish completion failed", zap.String("run_id", record.RunID), zap.Error(err))
		return
	}
	s.logger.Debug("completion published", zap.String("run_id", record.RunID), zap.String("message_id", msgID))
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
