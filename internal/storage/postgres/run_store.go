// Package postgres persists orchestration runs and their keyword rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

const defaultTable = "rank_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN   string
	Table string
	// MaxConns caps the pool size when positive.
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RunStore implements ranking.ResultStore on Postgres. Keywords live in
// "<table>_keywords" with their position in the merged list.
type RunStore struct {
	pool          pool
	runsTable     string
	keywordsTable string
}

// NewRunStore connects a pool and verifies it with a ping.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewRunStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, runsTable: table, keywordsTable: table + "_keywords"}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// SaveRun upserts the run row and replaces its keyword rows in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, rec ranking.RunRecord) (err error) {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	requestJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	errs := rec.Response.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	resp := rec.Response
	upsert := fmt.Sprintf(`
INSERT INTO %s (
	run_id, mode, total_pages, successful_pages, failed_pages, success,
	message, processing_time_ms, request, errors, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (run_id) DO UPDATE SET
	mode = EXCLUDED.mode,
	total_pages = EXCLUDED.total_pages,
	successful_pages = EXCLUDED.successful_pages,
	failed_pages = EXCLUDED.failed_pages,
	success = EXCLUDED.success,
	message = EXCLUDED.message,
	processing_time_ms = EXCLUDED.processing_time_ms,
	request = EXCLUDED.request,
	errors = EXCLUDED.errors,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`, s.runsTable)
	if _, err = tx.Exec(ctx, upsert,
		rec.RunID,
		string(rec.Request.Mode),
		resp.TotalPages,
		resp.SuccessfulPages,
		resp.FailedPages,
		resp.Success,
		resp.Message,
		resp.ProcessingTimeMs,
		requestJSON,
		errorsJSON,
		rec.StartedAt,
		rec.FinishedAt,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.keywordsTable), rec.RunID); err != nil {
		return fmt.Errorf("clear keywords: %w", err)
	}

	if n := len(resp.Keywords); n > 0 {
		positions := make([]int32, n)
		keywords := make([]string, n)
		ranks := make([]int32, n)
		counts := make([]int64, n)
		trends := make([]string, n)
		for i, kw := range resp.Keywords {
			positions[i] = int32(i)
			keywords[i] = kw.Keyword
			ranks[i] = int32(kw.Rank)
			counts[i] = kw.SearchCount
			trends[i] = string(kw.Trend)
		}
		insert := fmt.Sprintf(`
INSERT INTO %s (run_id, position, keyword, rank, search_count, trend)
SELECT $1, * FROM unnest($2::int[], $3::text[], $4::int[], $5::bigint[], $6::text[])`, s.keywordsTable)
		if _, err = tx.Exec(ctx, insert, rec.RunID, positions, keywords, ranks, counts, trends); err != nil {
			return fmt.Errorf("insert keywords: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, mode, total_pages, successful_pages, failed_pages, success,
	message, processing_time_ms, request, errors, started_at, finished_at`

// GetRun loads a run and its keywords in merged order.
func (s *RunStore) GetRun(ctx context.Context, runID string) (ranking.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1`, runColumns, s.runsTable), runID)
	rec, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ranking.RunRecord{}, ranking.ErrRunNotFound
	}
	if err != nil {
		return ranking.RunRecord{}, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT keyword, rank, search_count, trend FROM %s WHERE run_id = $1 ORDER BY position`,
		s.keywordsTable), runID)
	if err != nil {
		return ranking.RunRecord{}, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kw    ranking.KeywordRank
			trend string
		)
		if err := rows.Scan(&kw.Keyword, &kw.Rank, &kw.SearchCount, &trend); err != nil {
			return ranking.RunRecord{}, fmt.Errorf("scan keyword: %w", err)
		}
		kw.Trend = ranking.Trend(trend)
		kw.TrendText = kw.Trend.Text()
		rec.Response.Keywords = append(rec.Response.Keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return ranking.RunRecord{}, fmt.Errorf("iterate keywords: %w", err)
	}
	return rec, nil
}

// ListRuns returns run summaries newest first. Keyword rows are not loaded.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]ranking.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`, runColumns, s.runsTable),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	out := []ranking.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (ranking.RunRecord, error) {
	var (
		rec         ranking.RunRecord
		mode        string
		requestJSON []byte
		errorsJSON  []byte
	)
	resp := &rec.Response
	if err := row.Scan(
		&rec.RunID,
		&mode,
		&resp.TotalPages,
		&resp.SuccessfulPages,
		&resp.FailedPages,
		&resp.Success,
		&resp.Message,
		&resp.ProcessingTimeMs,
		&requestJSON,
		&errorsJSON,
		&rec.StartedAt,
		&rec.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal(requestJSON, &rec.Request); err != nil {
		return rec, fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &resp.Errors); err != nil {
		return rec, fmt.Errorf("decode errors: %w", err)
	}
	rec.Request.Mode = ranking.Mode(mode)
	resp.Keywords = []ranking.KeywordRank{}
	return rec, nil
}
