// Package postgres persists crawl jobs and their pages in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const defaultTable = "crawl_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool used by the store.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore keeps job records in <table> and page results in <table>_pages.
type JobStore struct {
	pool  pool
	jobs  string
	pages string
	now   func() time.Time
}

var _ crawler.JobStore = (*JobStore)(nil)

// Open connects a pgx pool using cfg.
func Open(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{
		pool:  p,
		jobs:  table,
		pages: table + "_pages",
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the job and page tables when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	jobsDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	start_url TEXT NOT NULL,
	page_budget INTEGER NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	attempted INTEGER NOT NULL DEFAULT 0,
	successful INTEGER NOT NULL DEFAULT 0,
	archive_uri TEXT NOT NULL DEFAULT ''
)`, s.jobs)
	if _, err := s.pool.Exec(ctx, jobsDDL); err != nil {
		return fmt.Errorf("create %s: %w", s.jobs, err)
	}
	pagesDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	body_text TEXT NOT NULL,
	links JSONB NOT NULL,
	strategy TEXT NOT NULL,
	served_url TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL
)`, s.pages, s.jobs)
	if _, err := s.pool.Exec(ctx, pagesDDL); err != nil {
		return fmt.Errorf("create %s: %w", s.pages, err)
	}
	return nil
}

// CreateJob inserts a job record.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.JobRecord) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	status := job.Status
	if status == "" {
		status = crawler.JobStatusQueued
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, start_url, page_budget, status, submitted_at)
VALUES ($1, $2, $3, $4, $5)`, s.jobs)
	if _, err := s.pool.Exec(ctx, query, job.ID, job.StartURL, int(job.Budget), string(status), job.Submitted); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets the status, error text and counters. started_at is
// stamped on the first move to running; finished_at on terminal statuses.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	now := s.now()
	var started, finished *time.Time
	if status == crawler.JobStatusRunning {
		started = &now
	}
	if status.Terminal() {
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	error_text = $3,
	attempted = $4,
	successful = $5,
	started_at = COALESCE(started_at, $6),
	finished_at = COALESCE($7, finished_at)
WHERE id = $1`, s.jobs)
	tag, err := s.pool.Exec(ctx, query,
		jobID, string(status), errText, counters.Attempted, counters.Successful, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// UpdateJobCounters refreshes the live counters of a job.
func (s *JobStore) UpdateJobCounters(ctx context.Context, jobID string, counters crawler.JobCounters) error {
	query := fmt.Sprintf(`UPDATE %s SET attempted = $2, successful = $3 WHERE id = $1`, s.jobs)
	tag, err := s.pool.Exec(ctx, query, jobID, counters.Attempted, counters.Successful)
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update counters %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// RecordArchive stores the URI of the archived results.
func (s *JobStore) RecordArchive(ctx context.Context, jobID, uri string) error {
	query := fmt.Sprintf(`UPDATE %s SET archive_uri = $2 WHERE id = $1`, s.jobs)
	tag, err := s.pool.Exec(ctx, query, jobID, uri)
	if err != nil {
		return fmt.Errorf("record archive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record archive %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// RecordPage inserts one page row.
func (s *JobStore) RecordPage(ctx context.Context, jobID string, page crawler.PageResult) error {
	links := page.Links
	if links == nil {
		links = []string{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, url, title, body_text, links, strategy, served_url, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.pages)
	args := []any{
		jobID,
		page.URL,
		page.Title,
		page.Text,
		linksJSON,
		string(page.Strategy),
		page.ServedURL,
		page.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.JobRecord, error) {
	query := fmt.Sprintf(`
SELECT id, start_url, page_budget, status, submitted_at, started_at, finished_at,
	error_text, attempted, successful, archive_uri
FROM %s
WHERE id = $1`, s.jobs)

	var (
		job    crawler.JobRecord
		budget int
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.StartURL,
		&budget,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.Counters.Attempted,
		&job.Counters.Successful,
		&job.ArchiveURI,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.JobRecord{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
		}
		return crawler.JobRecord{}, fmt.Errorf("get job: %w", err)
	}
	job.Budget = crawler.Budget(budget)
	job.Status = crawler.JobStatus(status)
	return job, nil
}

// ListPages returns the pages of a job in insertion order.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]crawler.PageResult, error) {
	query := fmt.Sprintf(`
SELECT url, title, body_text, links, strategy, served_url, fetched_at
FROM %s
WHERE job_id = $1
ORDER BY seq`, s.pages)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	pages := []crawler.PageResult{}
	for rows.Next() {
		var (
			page      crawler.PageResult
			linksJSON []byte
			strategy  string
		)
		if err := rows.Scan(
			&page.URL,
			&page.Title,
			&page.Text,
			&linksJSON,
			&strategy,
			&page.ServedURL,
			&page.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if err := json.Unmarshal(linksJSON, &page.Links); err != nil {
			return nil, fmt.Errorf("decode links for %s: %w", page.URL, err)
		}
		page.Strategy = crawler.Strategy(strategy)
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
