package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
)

// PrometheusSink derives run-level collectors from progress events.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	pagesDone     *prometheus.CounterVec

	mu     sync.Mutex
	active map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rank_progress_runs_started_total",
			Help: "Total orchestration runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_progress_runs_completed_total",
			Help: "Total orchestration runs completed, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rank_progress_runs_active",
			Help: "Current number of running orchestrations.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rank_progress_run_seconds",
			Help:    "Wall time per completed orchestration.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		pagesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rank_progress_pages_done_total",
			Help: "Pages settled, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),
		active: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.pagesDone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsActive.Inc()
			}
		case progress.StagePageDone:
			s.pagesDone.WithLabelValues(evt.Mode, evt.Outcome()).Inc()
		case progress.StageRunDone:
			s.runsCompleted.WithLabelValues(evt.Mode, evt.Outcome()).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(evt.Mode).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsActive.Dec()
			}
		}
	}
	return nil
}

// track flips a run's active state and reports whether it changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	if start {
		if ok {
			return false
		}
		s.active[runID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.active, runID)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
