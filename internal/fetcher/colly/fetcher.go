// Package collyfetcher implements the upstream ranking call using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const defaultTimeout = 30 * time.Second

// DefaultInstabilityMarkers are body fragments the upstream returns while degraded.
var DefaultInstabilityMarkers = []string{
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"please try again later",
	"system maintenance",
}

// Config controls collector behavior.
type Config struct {
	Endpoint           string
	Timeout            time.Duration
	InstabilityMarkers []string
	Headers            http.Header
}

// Fetcher implements ranking.Upstream using the Colly collector.
type Fetcher struct {
	cfg           Config
	markers       [][]byte
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// rawReply is whatever the collector saw for one call, success or not.
type rawReply struct {
	statusCode int
	body       []byte
	hookErr    error
}

type payload struct {
	StatusCode int          `json:"statusCode"`
	Message    string       `json:"message"`
	Ranks      []payloadRow `json:"ranks"`
}

type payloadRow struct {
	Rank        int    `json:"rank"`
	Keyword     string `json:"keyword"`
	SearchCount int64  `json:"searchCount"`
	Trend       string `json:"trend"`
}

// New builds a Fetcher for the configured ranking endpoint.
func New(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("upstream endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.InstabilityMarkers) == 0 {
		cfg.InstabilityMarkers = DefaultInstabilityMarkers
	}
	markers := make([][]byte, 0, len(cfg.InstabilityMarkers))
	for _, m := range cfg.InstabilityMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, []byte(strings.ToLower(m)))
		}
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	// The HTTP backend is shared by every clone, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		markers:       markers,
		baseCollector: c,
	}, nil
}

// FetchPage posts the page query and decodes the ranking rows.
func (f *Fetcher) FetchPage(ctx context.Context, call ranking.PageCall) ([]ranking.KeywordRank, error) {
	var reply rawReply
	collector := f.buildCollector(call, &reply)

	postErr := f.runCollector(ctx, collector, formData(call))
	if errors.Is(postErr, context.Canceled) || errors.Is(postErr, context.DeadlineExceeded) {
		if errors.Is(postErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ranking.ErrTimeout, postErr)
		}
		return nil, postErr
	}
	// Markers apply only when the body is not a ranking payload.
	if postErr == nil && reply.hookErr == nil && isSuccess(reply.statusCode) {
		if p, err := parsePayload(reply.body); err == nil && p.Ranks != nil {
			return keywordRows(p), nil
		}
	}
	if err := f.classify(reply, postErr); err != nil {
		return nil, err
	}
	return decode(reply.body)
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func (f *Fetcher) buildCollector(call ranking.PageCall, reply *rawReply) *colly.Collector {
	collector := f.baseCollector.Clone()
	if call.UserAgent != "" {
		collector.UserAgent = call.UserAgent
	}
	f.configureCollectorHooks(collector, reply)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, reply *rawReply) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json, text/plain, */*")
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		reply.statusCode = r.StatusCode
		reply.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			reply.statusCode = r.StatusCode
			reply.body = append([]byte(nil), r.Body...)
		}
		reply.hookErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, data map[string]string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Post(f.cfg.Endpoint, data)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

// classify maps what the collector observed onto the ranking error taxonomy.
func (f *Fetcher) classify(reply rawReply, postErr error) error {
	if f.isUnstable(reply) {
		return fmt.Errorf("%w: status %d", ranking.ErrUpstreamUnstable, reply.statusCode)
	}
	err := postErr
	if err == nil {
		err = reply.hookErr
	}
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ranking.ErrTimeout, err)
	}
	if reply.statusCode != 0 {
		return fmt.Errorf("%w: status %d: %v", ranking.ErrTransport, reply.statusCode, err)
	}
	return fmt.Errorf("%w: %v", ranking.ErrTransport, err)
}

func (f *Fetcher) isUnstable(reply rawReply) bool {
	if reply.statusCode == http.StatusTooManyRequests || reply.statusCode == http.StatusServiceUnavailable {
		return true
	}
	if len(reply.body) == 0 {
		return false
	}
	lower := bytes.ToLower(reply.body)
	for _, marker := range f.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func parsePayload(body []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func decode(body []byte) ([]ranking.KeywordRank, error) {
	p, err := parsePayload(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ranking.ErrTransport, err)
	}
	return keywordRows(p), nil
}

func keywordRows(p payload) []ranking.KeywordRank {
	out := make([]ranking.KeywordRank, 0, len(p.Ranks))
	for _, row := range p.Ranks {
		keyword := strings.TrimSpace(row.Keyword)
		if keyword == "" || row.Rank < 1 {
			continue
		}
		trend := ranking.Trend(strings.ToLower(row.Trend))
		out = append(out, ranking.KeywordRank{
			Keyword:     keyword,
			Rank:        row.Rank,
			SearchCount: row.SearchCount,
			Trend:       trend,
			TrendText:   trend.Text(),
		})
	}
	return out
}

func formData(call ranking.PageCall) map[string]string {
	p := call.Params
	data := map[string]string{
		"page": strconv.Itoa(call.PageNumber),
	}
	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set("cid", p.CategoryID)
	set("timeUnit", p.TimeUnit)
	set("startDate", p.StartDate)
	set("endDate", p.EndDate)
	set("gender", p.Gender)
	set("age", p.AgeGroup)
	set("device", p.Device)
	if p.Count > 0 {
		data["count"] = strconv.Itoa(p.Count)
	}
	return data
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
