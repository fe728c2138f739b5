package ranking

import (
	"context"
	"io"
	"time"
)

// Upstream performs the single outbound ranking call for one page.
type Upstream interface {
	FetchPage(ctx context.Context, call PageCall) ([]KeywordRank, error)
}

// PageFetcher runs one page job and always returns a PageResult. It is the
// worker invocation capability handed to schedulers; an RPC client, a spawned
// task, or an in-process worker all satisfy it.
type PageFetcher interface {
	Fetch(ctx context.Context, job PageJob) PageResult
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, job PageJob) PageResult

// Fetch calls f.
func (f PageFetcherFunc) Fetch(ctx context.Context, job PageJob) PageResult {
	return f(ctx, job)
}

// ResultStore persists finished runs for later lookup.
type ResultStore interface {
	SaveRun(ctx context.Context, record RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResponseCache stores successful responses keyed by request digest.
type ResponseCache interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, resp Response) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
