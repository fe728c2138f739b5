package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

func TestFetchPageDecodesRanks(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		gotForm  map[string]string
		gotAgent string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		gotForm = map[string]string{
			"page":  r.PostForm.Get("page"),
			"cid":   r.PostForm.Get("cid"),
			"count": r.PostForm.Get("count"),
		}
		gotAgent = r.UserAgent()
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode":200,"ranks":[
			{"rank":1,"keyword":"shoes","searchCount":120,"trend":"UP"},
			{"rank":2,"keyword":"bag","searchCount":90,"trend":"new"},
			{"rank":0,"keyword":"broken"},
			{"rank":3,"keyword":"  "}
		]}`))
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	rows, err := f.FetchPage(context.Background(), ranking.PageCall{
		PageNumber: 3,
		Params:     ranking.FetchParams{CategoryID: "50000000", Count: 20},
		UserAgent:  "agent-under-test",
	})
	require.NoError(t, err)
	require.Equal(t, []ranking.KeywordRank{
		{Keyword: "shoes", Rank: 1, SearchCount: 120, Trend: ranking.TrendUp, TrendText: "rising"},
		{Keyword: "bag", Rank: 2, SearchCount: 90, Trend: ranking.TrendNew, TrendText: "new"},
	}, rows)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{"page": "3", "cid": "50000000", "count": "20"}, gotForm)
	require.Equal(t, "agent-under-test", gotAgent)
}

func TestFetchPageDetectsInstabilityMarker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>Service Temporarily Unavailable</body></html>`))
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrUpstreamUnstable)
}

func TestFetchPageKeepsKeywordsContainingMarkerText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ranks":[{"rank":1,"keyword":"system maintenance kit"},{"rank":2,"keyword":"bag"}]}`))
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	rows, err := f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "system maintenance kit", rows[0].Keyword)
	require.Equal(t, "bag", rows[1].Keyword)
}

func TestFetchPageMarkerInJSONWithoutRanksIsUnstable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode":503,"message":"System maintenance in progress"}`))
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrUpstreamUnstable)
}

func TestFetchPageTreatsThrottleStatusAsUnstable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrUpstreamUnstable)
}

func TestFetchPageStatusErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrTransport)
	require.Contains(t, err.Error(), "status 404")
}

func TestFetchPageDecodeFailureIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ranks": [`))
	}))
	defer srv.Close()

	f, err := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrTransport)
	require.Contains(t, err.Error(), "decode payload")
}

func TestFetchPageTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = f.FetchPage(context.Background(), ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchPageContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f, err := New(Config{Endpoint: srv.URL, Timeout: 10 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.FetchPage(ctx, ranking.PageCall{PageNumber: 1})
	require.ErrorIs(t, err, ranking.ErrTimeout)
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, err := New(Config{Endpoint: "http://upstream.local", Headers: http.Header{"X-Trace": {"yes"}}})
	require.NoError(t, err)

	var reply rawReply
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &reply)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway, Body: []byte("bad")}, errors.New("Bad Gateway"))
	require.Equal(t, http.StatusBadGateway, reply.statusCode)
	require.EqualError(t, reply.hookErr, "Bad Gateway")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
