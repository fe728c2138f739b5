package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	lookupTimeout   = 3 * time.Second
)

// listRuns handles GET /v1/rankings/runs?limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid paging, or 500 on store errors.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	runs, err := s.collector.ListRuns(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunSummaries(runs)})
}

// getRun handles GET /v1/rankings/runs/{run_id}: the full stored record, or 404.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	rec, err := s.collector.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ranking.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": rec})
}

// runProgress handles GET /v1/rankings/runs/{run_id}/progress. Progress is kept
// in memory for recent runs only, so 503 means tracking is off and 404 means
// the run is unknown or evicted.
func (s *Server) runProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking disabled")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := s.progress.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": p})
}

func parseRunID(r *http.Request) (string, error) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		return "", errors.New("run_id is required")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type runSummary struct {
	RunID           string       `json:"runId"`
	Mode            ranking.Mode `json:"mode"`
	Success         bool         `json:"success"`
	TotalPages      int          `json:"totalPages"`
	SuccessfulPages int          `json:"successfulPages"`
	FailedPages     int          `json:"failedPages"`
	Message         string       `json:"message"`
	StartedAt       time.Time    `json:"startedAt"`
	FinishedAt      time.Time    `json:"finishedAt"`
}

func toRunSummaries(in []ranking.RunRecord) []runSummary {
	out := make([]runSummary, 0, len(in))
	for _, rec := range in {
		out = append(out, runSummary{
			RunID:           rec.RunID,
			Mode:            rec.Request.Mode,
			Success:         rec.Response.Success,
			TotalPages:      rec.Response.TotalPages,
			SuccessfulPages: rec.Response.SuccessfulPages,
			FailedPages:     rec.Response.FailedPages,
			Message:         rec.Response.Message,
			StartedAt:       rec.StartedAt,
			FinishedAt:      rec.FinishedAt,
		})
	}
	return out
}
