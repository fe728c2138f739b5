package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if collectorPagesTotal == nil || collectorRunsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePage(t *testing.T) {
	before := testutil.ToFloat64(collectorPagesTotalFor("bounded", "timeout"))
	ObservePage("bounded", "timeout", 30*time.Second)
	if got := testutil.ToFloat64(collectorPagesTotalFor("bounded", "timeout")); got != before+1 {
		t.Errorf("expected pages_total to grow by 1, got %f -> %f", before, got)
	}
}

func TestPagesInFlight(t *testing.T) {
	Init()
	before := testutil.ToFloat64(collectorPagesInFlight)
	IncPagesInFlight()
	IncPagesInFlight()
	DecPagesInFlight()
	if got := testutil.ToFloat64(collectorPagesInFlight); got != before+1 {
		t.Errorf("expected in-flight gauge %f, got %f", before+1, got)
	}
	DecPagesInFlight()
}

func TestObserveRunAndCache(t *testing.T) {
	Init()
	runsBefore := testutil.ToFloat64(collectorRunsTotal.WithLabelValues("batched", "success"))
	ObserveRun("batched", "success", 2*time.Second)
	if got := testutil.ToFloat64(collectorRunsTotal.WithLabelValues("batched", "success")); got != runsBefore+1 {
		t.Errorf("expected runs_total to grow by 1, got %f", got)
	}

	hitsBefore := testutil.ToFloat64(collectorCacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup("hit")
	if got := testutil.ToFloat64(collectorCacheLookupsTotal.WithLabelValues("hit")); got != hitsBefore+1 {
		t.Errorf("expected cache hits to grow by 1, got %f", got)
	}
}

func collectorPagesTotalFor(mode, outcome string) prometheus.Counter {
	Init()
	return collectorPagesTotal.WithLabelValues(mode, outcome)
}
