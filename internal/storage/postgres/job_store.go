// Package postgres provides the Postgres-backed JobStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const defaultTable = "scrape_jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore persists jobs in Postgres. Transitions are guarded in the UPDATE itself,
// so concurrent writers on the same row cannot both win.
type JobStore struct {
	pool  pool
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the jobs table and its status index when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	method        TEXT NOT NULL,
	status        TEXT NOT NULL,
	result        JSONB,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_created_idx ON %s (status, created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *JobStore) columns() string {
	return "id, url, method, status, result, COALESCE(error_message, ''), created_at, completed_at"
}

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job scrape.Job) error {
	resultJSON, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, method, status, result, error_message, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.URL,
		string(job.Method),
		string(job.Status),
		resultJSON,
		nullString(job.ErrorMessage),
		job.CreatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, scrape.ErrAlreadyExists)
	}
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, s.columns(), s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, scrape.ErrNotFound
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// SetStatus applies update only if the row's current status is a legal predecessor.
func (s *JobStore) SetStatus(ctx context.Context, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	if err := update.Validate(); err != nil {
		return scrape.Job{}, err
	}
	resultJSON, err := encodeResult(update.Result)
	if err != nil {
		return scrape.Job{}, err
	}
	var completedAt *time.Time
	if update.Status.IsTerminal() {
		at := update.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		completedAt = &at
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, result = $3, error_message = $4, completed_at = $5
WHERE id = $1 AND status = ANY($6)
RETURNING %s`, s.table, s.columns())
	job, err := scanJob(s.pool.QueryRow(ctx, query,
		jobID,
		string(update.Status),
		resultJSON,
		nullString(update.ErrorMessage),
		completedAt,
		statusStrings(scrape.Predecessors(update.Status)),
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, fmt.Errorf("update job status: %w", err)
	}

	current, getErr := s.Get(ctx, jobID)
	if getErr != nil {
		return scrape.Job{}, getErr
	}
	return current, fmt.Errorf("%w: %s -> %s", scrape.ErrInvalidTransition, current.Status, update.Status)
}

// List returns jobs ordered by creation time.
func (s *JobStore) List(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	filter = filter.Normalize()
	var (
		where string
		args  []any
	)
	if filter.Status != nil {
		where = "WHERE status = $1 "
		args = append(args, string(*filter.Status))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM %s %sORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		s.columns(), s.table, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]scrape.Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job row.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (scrape.Job, error) {
	var (
		job         scrape.Job
		method      string
		status      string
		resultJSON  []byte
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.URL,
		&method,
		&status,
		&resultJSON,
		&job.ErrorMessage,
		&job.CreatedAt,
		&completedAt,
	); err != nil {
		return scrape.Job{}, err
	}
	job.Method = scrape.Method(method)
	job.Status = scrape.JobStatus(status)
	job.CompletedAt = completedAt
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		var res scrape.Result
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return scrape.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

func encodeResult(res *scrape.Result) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func nullString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func statusStrings(statuses []scrape.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
