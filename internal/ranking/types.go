// Package ranking defines the domain types shared by the collector subsystems.
package ranking

import (
	"strconv"
	"time"
)

// Mode selects the dispatch policy used for one orchestration.
type Mode string

// Supported dispatch policies.
const (
	ModeFullParallel Mode = "full_parallel"
	ModeBounded      Mode = "bounded"
	ModeBatched      Mode = "batched"
)

// Valid reports whether m names a known dispatch policy.
func (m Mode) Valid() bool {
	switch m {
	case ModeFullParallel, ModeBounded, ModeBatched:
		return true
	default:
		return false
	}
}

// Trend is the upstream movement marker for a keyword.
type Trend string

// Trend values reported by the upstream ranking service.
const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
	TrendNew  Trend = "new"
)

// Text returns the display label for the trend.
func (t Trend) Text() string {
	switch t {
	case TrendUp:
		return "rising"
	case TrendDown:
		return "falling"
	case TrendSame:
		return "steady"
	case TrendNew:
		return "new"
	default:
		return ""
	}
}

// FetchParams is the query passed unchanged to every page fetch.
type FetchParams struct {
	CategoryID string `json:"categoryId"`
	TimeUnit   string `json:"timeUnit"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Gender     string `json:"gender"`
	AgeGroup   string `json:"ageGroup"`
	Device     string `json:"device"`
	Count      int    `json:"count"`
}

// KeywordRank is one row of upstream ranking output.
type KeywordRank struct {
	Keyword     string `json:"keyword"`
	Rank        int    `json:"rank"`
	SearchCount int64  `json:"searchCount"`
	Trend       Trend  `json:"trend"`
	TrendText   string `json:"trendText"`
}

// PageJob is a single page fetch scheduled by the orchestrator.
type PageJob struct {
	PageNumber int
	Params     FetchParams
}

// PageCall is what the worker hands to the upstream client for one page.
type PageCall struct {
	PageNumber int
	Params     FetchParams
	UserAgent  string
}

// PageResult is the terminal state of one page job.
type PageResult struct {
	PageNumber int           `json:"pageNumber"`
	Success    bool          `json:"success"`
	Keywords   []KeywordRank `json:"keywords,omitempty"`
	Error      string        `json:"error,omitempty"`
	ElapsedMs  int64         `json:"elapsedMs"`
}

// FailedPage builds a failed PageResult for the given page.
func FailedPage(pageNumber int, errText string, elapsed time.Duration) PageResult {
	return PageResult{
		PageNumber: pageNumber,
		Success:    false,
		Error:      errText,
		ElapsedMs:  elapsed.Milliseconds(),
	}
}

// Request is the inbound orchestration request.
type Request struct {
	TotalPages       int         `json:"totalPages"`
	Mode             Mode        `json:"mode"`
	ConcurrencyLimit int         `json:"concurrencyLimit,omitempty"`
	BatchSize        int         `json:"batchSize,omitempty"`
	FetchParams      FetchParams `json:"fetchParams"`
}

// Validate rejects requests that must not dispatch any page.
func (r Request) Validate() error {
	if r.TotalPages < 1 {
		return &ValidationError{Field: "totalPages", Reason: "must be >= 1"}
	}
	if !r.Mode.Valid() {
		return &ValidationError{Field: "mode", Reason: "unknown mode " + strconv.Quote(string(r.Mode))}
	}
	if r.ConcurrencyLimit < 0 {
		return &ValidationError{Field: "concurrencyLimit", Reason: "must be >= 0"}
	}
	if r.BatchSize < 0 {
		return &ValidationError{Field: "batchSize", Reason: "must be >= 0"}
	}
	return nil
}

// Response is the consolidated result of one orchestration.
type Response struct {
	Success          bool          `json:"success"`
	Keywords         []KeywordRank `json:"keywords"`
	TotalPages       int           `json:"totalPages"`
	SuccessfulPages  int           `json:"successfulPages"`
	FailedPages      int           `json:"failedPages"`
	Errors           []string      `json:"errors"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	Message          string        `json:"message"`
}

// RunRecord is what result stores persist for a finished orchestration.
type RunRecord struct {
	RunID      string    `json:"runId"`
	Request    Request   `json:"request"`
	Response   Response  `json:"response"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
