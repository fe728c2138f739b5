package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/collect"
	"github.com/JakeFAU/keyword-rank-collector/internal/progress/sinks"
	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

type fakeCollector struct {
	mu      sync.Mutex
	reqs    []ranking.Request
	run     collect.Run
	err     error
	runs    map[string]ranking.RunRecord
	listed  []ranking.RunRecord
	listErr error
	getErr  error
	limit   int
	offset  int
	panics  bool
}

func (f *fakeCollector) Collect(_ context.Context, req ranking.Request) (collect.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("collector exploded")
	}
	f.reqs = append(f.reqs, req)
	return f.run, f.err
}

func (f *fakeCollector) GetRun(_ context.Context, runID string) (ranking.RunRecord, error) {
	if f.getErr != nil {
		return ranking.RunRecord{}, f.getErr
	}
	rec, ok := f.runs[runID]
	if !ok {
		return ranking.RunRecord{}, fmt.Errorf("get run %s: %w", runID, ranking.ErrRunNotFound)
	}
	return rec, nil
}

func (f *fakeCollector) ListRuns(_ context.Context, limit, offset int) ([]ranking.RunRecord, error) {
	f.mu.Lock()
	f.limit, f.offset = limit, offset
	f.mu.Unlock()
	return f.listed, f.listErr
}

type fakeProgress map[string]sinks.RunProgress

func (f fakeProgress) Get(runID string) (sinks.RunProgress, bool) {
	p, ok := f[runID]
	return p, ok
}

func newTestServer(c *fakeCollector, opts Options) *Server {
	return NewServer(c, fakeProgress{"run-1": {RunID: "run-1", TotalPages: 3, PagesStarted: 2}}, zap.NewNop(), opts)
}

func do(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Collect_Succeeds(t *testing.T) {
	t.Parallel()

	c := &fakeCollector{run: collect.Run{
		ID: "run-9",
		Response: ranking.Response{
			Success:         true,
			Keywords:        []ranking.KeywordRank{{Keyword: "a", Rank: 1}},
			TotalPages:      1,
			SuccessfulPages: 1,
			Errors:          []string{},
			Message:         "1/1 succeeded",
		},
	}}
	s := newTestServer(c, Options{})

	rec := do(t, s, http.MethodPost, "/v1/rankings/collect",
		[]byte(`{"totalPages":1,"mode":"bounded","concurrencyLimit":2,"fetchParams":{"categoryId":"50000000"}}`))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "run-9", rec.Header().Get("X-Run-ID"))
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp ranking.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "1/1 succeeded", resp.Message)

	require.Len(t, c.reqs, 1)
	require.Equal(t, ranking.ModeBounded, c.reqs[0].Mode)
	require.Equal(t, 2, c.reqs[0].ConcurrencyLimit)
	require.Equal(t, "50000000", c.reqs[0].FetchParams.CategoryID)
}

func TestServer_Collect_CachedHeader(t *testing.T) {
	t.Parallel()
	c := &fakeCollector{run: collect.Run{ID: "run-2", Cached: true, Response: ranking.Response{Success: true}}}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":1}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "HIT", rec.Header().Get("X-Cache"))
}

func TestServer_Collect_FailedRunStillOK(t *testing.T) {
	t.Parallel()
	c := &fakeCollector{run: collect.Run{ID: "run-3", Response: ranking.Response{
		Success: false, TotalPages: 2, FailedPages: 2, Errors: []string{"page 1: timeout", "page 2: timeout"},
		Message: "0/2 succeeded",
	}}}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":2}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "page 1: timeout")
}

func TestServer_Collect_InvalidJSON(t *testing.T) {
	t.Parallel()
	c := &fakeCollector{}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte("{invalid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, c.reqs)
}

func TestServer_Collect_ValidationError(t *testing.T) {
	t.Parallel()
	verr := &ranking.ValidationError{Field: "totalPages", Reason: "must be >= 1"}
	c := &fakeCollector{
		run: collect.Run{ID: "run-4", Response: ranking.Response{
			Success: false, Keywords: []ranking.KeywordRank{}, Errors: []string{verr.Error()}, Message: verr.Error(),
		}},
		err: verr,
	}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":0}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "run-4", rec.Header().Get("X-Run-ID"))

	var resp ranking.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "totalPages")
}

func TestServer_Collect_InternalError(t *testing.T) {
	t.Parallel()
	c := &fakeCollector{err: errors.New("generate run id: entropy")}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":1}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()
	c := &fakeCollector{panics: true}
	rec := do(t, newTestServer(c, Options{}), http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":1}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RequestIDPropagated(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeCollector{}, Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := newTestServer(&fakeCollector{}, Options{Checks: map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	}})
	require.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/readyz", nil).Code)

	bad := newTestServer(&fakeCollector{}, Options{Checks: map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := do(t, bad, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeCollector{}, Options{})
	do(t, s, http.MethodGet, "/healthz", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_CollectNotCutByRequestTimeout(t *testing.T) {
	t.Parallel()
	slow := &slowCollector{delay: 100 * time.Millisecond}
	s := NewServer(slow, nil, zap.NewNop(), Options{RequestTimeout: 20 * time.Millisecond})
	rec := do(t, s, http.MethodPost, "/v1/rankings/collect", []byte(`{"totalPages":1}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ranking.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "1/1 succeeded", resp.Message)
}

func TestServer_ReadRoutesTimeOut(t *testing.T) {
	t.Parallel()
	slow := &slowCollector{delay: 200 * time.Millisecond}
	s := NewServer(slow, nil, zap.NewNop(), Options{RequestTimeout: 20 * time.Millisecond})
	rec := do(t, s, http.MethodGet, "/v1/rankings/runs", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type slowCollector struct {
	fakeCollector
	delay time.Duration
}

func (s *slowCollector) Collect(ctx context.Context, _ ranking.Request) (collect.Run, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return collect.Run{ID: "slow", Response: ranking.Response{
		Success: true, Keywords: []ranking.KeywordRank{}, TotalPages: 1, SuccessfulPages: 1,
		Errors: []string{}, Message: "1/1 succeeded",
	}}, nil
}

func (s *slowCollector) ListRuns(ctx context.Context, _, _ int) ([]ranking.RunRecord, error) {
	select {
	case <-time.After(s.delay):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
