package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/keyword-rank-collector/internal/progress"
)

// RunProgress is the live view of one run assembled from its events.
type RunProgress struct {
	RunID           string    `json:"runId"`
	Mode            string    `json:"mode"`
	TotalPages      int       `json:"totalPages"`
	PagesStarted    int       `json:"pagesStarted"`
	PagesSucceeded  int       `json:"pagesSucceeded"`
	PagesFailed     int       `json:"pagesFailed"`
	KeywordsFetched int       `json:"keywordsFetched"`
	Done            bool      `json:"done"`
	Success         bool      `json:"success"`
	Message         string    `json:"message,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Tracker keeps the latest RunProgress per run, evicting the oldest runs
// beyond capacity.
type Tracker struct {
	mu       sync.RWMutex
	runs     map[string]*RunProgress
	order    []string
	capacity int
}

// NewTracker returns a Tracker holding at most capacity runs (default 256).
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tracker{
		runs:     make(map[string]*RunProgress),
		capacity: capacity,
	}
}

// Consume folds the batch into the per-run views.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		run := t.runFor(evt)
		run.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StageRunStart:
			run.Mode = evt.Mode
			run.TotalPages = evt.TotalPages
			run.StartedAt = evt.TS
		case progress.StagePageStart:
			run.PagesStarted++
		case progress.StagePageDone:
			if evt.Success {
				run.PagesSucceeded++
				run.KeywordsFetched += evt.Keywords
			} else {
				run.PagesFailed++
			}
		case progress.StageRunDone:
			run.Done = true
			run.Success = evt.Success
			run.Message = evt.Note
		}
	}
	return nil
}

func (t *Tracker) runFor(evt progress.Event) *RunProgress {
	if run, ok := t.runs[evt.RunID]; ok {
		return run
	}
	run := &RunProgress{RunID: evt.RunID, Mode: evt.Mode, StartedAt: evt.TS}
	t.runs[evt.RunID] = run
	t.order = append(t.order, evt.RunID)
	for len(t.order) > t.capacity {
		delete(t.runs, t.order[0])
		t.order = t.order[1:]
	}
	return run
}

// Get returns a copy of the run's progress.
func (t *Tracker) Get(runID string) (RunProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return RunProgress{}, false
	}
	return *run, true
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}
