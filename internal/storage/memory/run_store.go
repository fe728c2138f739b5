package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// RunStore implements ranking.ResultStore in memory, keeping at most
// capacity runs and evicting the oldest first.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]ranking.RunRecord
	order    []string
	capacity int
}

// NewRunStore constructs a RunStore. A non-positive capacity keeps 1000 runs.
func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RunStore{
		runs:     make(map[string]ranking.RunRecord),
		capacity: capacity,
	}
}

// SaveRun stores or replaces a run.
func (s *RunStore) SaveRun(_ context.Context, rec ranking.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[rec.RunID]; !exists {
		s.order = append(s.order, rec.RunID)
	}
	rec.Response.Keywords = slices.Clone(rec.Response.Keywords)
	rec.Response.Errors = slices.Clone(rec.Response.Errors)
	s.runs[rec.RunID] = rec
	for len(s.order) > s.capacity {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// GetRun returns a stored run or ranking.ErrRunNotFound.
func (s *RunStore) GetRun(_ context.Context, runID string) (ranking.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return ranking.RunRecord{}, ranking.ErrRunNotFound
	}
	return rec, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]ranking.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ranking.RunRecord{}
	if offset < 0 {
		offset = 0
	}
	for i := len(s.order) - 1 - offset; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.runs[s.order[i]])
	}
	return out, nil
}
