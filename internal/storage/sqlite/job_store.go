// Package sqlite provides a single-node durable JobStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
    id            TEXT PRIMARY KEY,
    url           TEXT NOT NULL,
    method        TEXT NOT NULL,
    status        TEXT NOT NULL,
    result        TEXT,
    error_message TEXT,
    created_at    INTEGER NOT NULL,
    completed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status, created_at);
`

const columns = `id, url, method, status, COALESCE(result, ''), COALESCE(error_message, ''), created_at, completed_at`

// JobStore implements scrape.JobStore on SQLite. Timestamps are stored as Unix
// nanoseconds so ordering is numeric.
type JobStore struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*JobStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
	}
	return &JobStore{db: db}, nil
}

// Close closes the database connection.
func (s *JobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Create inserts a new job.
func (s *JobStore) Create(ctx context.Context, job scrape.Job) error {
	resultJSON, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, url, method, status, result, error_message, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		job.ID, job.URL, string(job.Method), string(job.Status),
		resultJSON, nullString(job.ErrorMessage), job.CreatedAt.UnixNano(), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, scrape.ErrAlreadyExists)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM scrape_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scrape.Job{}, scrape.ErrNotFound
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// SetStatus applies update when the current status is a legal predecessor.
func (s *JobStore) SetStatus(ctx context.Context, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	if err := update.Validate(); err != nil {
		return scrape.Job{}, err
	}
	resultJSON, err := encodeResult(update.Result)
	if err != nil {
		return scrape.Job{}, err
	}
	var completedAt any
	if update.Status.IsTerminal() {
		at := update.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		completedAt = at.UnixNano()
	}

	preds := scrape.Predecessors(update.Status)
	args := []any{string(update.Status), resultJSON, nullString(update.ErrorMessage), completedAt, jobID}
	for _, p := range preds {
		args = append(args, string(p))
	}
	query := `UPDATE scrape_jobs SET status = ?, result = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status IN (` + placeholders(len(preds)) + `)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("update job status: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return scrape.Job{}, err
	}
	if n == 0 {
		return job, fmt.Errorf("%w: %s -> %s", scrape.ErrInvalidTransition, job.Status, update.Status)
	}
	return job, nil
}

// List returns jobs ordered by creation time.
func (s *JobStore) List(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	filter = filter.Normalize()
	query := `SELECT ` + columns + ` FROM scrape_jobs`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY created_at, id LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []scrape.Job{}
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

// Delete removes a job.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrape_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
		resultJSON  string
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&job.ID, &job.URL, &method, &status, &resultJSON, &job.ErrorMessage, &createdAt, &completedAt); err != nil {
		return scrape.Job{}, err
	}
	job.Method = scrape.Method(method)
	job.Status = scrape.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		job.CompletedAt = &t
	}
	if resultJSON != "" {
		var res scrape.Result
		if err := json.Unmarshal([]byte(resultJSON), &res); err != nil {
			return scrape.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

func encodeResult(res *scrape.Result) (any, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
