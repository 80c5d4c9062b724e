// Package jobs implements job submission and the read/admin operations that sit
// between the API and the job store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// ErrInvalidURL is returned by Submit for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid url")

// Enqueuer accepts work items. Both scrape.Queue and the dispatcher satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scrape.QueueItem) error
}

// URLPolicy vetoes submissions by URL.
type URLPolicy interface {
	AllowURL(rawURL string) bool
}

// Config tunes the service.
type Config struct {
	// EnqueueTimeout caps how long Submit waits on a full queue.
	EnqueueTimeout time.Duration
	// Policy, when set, rejects URLs before a record is created.
	Policy URLPolicy
}

// Service creates job records and hands them to the work queue.
type Service struct {
	store  scrape.JobStore
	queue  Enqueuer
	ids    scrape.IDGenerator
	clock  scrape.Clock
	cfg    Config
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(
	store scrape.JobStore,
	queue Enqueuer,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Submit records a pending job and enqueues it. If the enqueue fails the record
// stays pending and Requeue picks it up on the next start.
func (s *Service) Submit(ctx context.Context, rawURL string, rawMethod string) (string, error) {
	method, err := scrape.ParseMethod(rawMethod)
	if err != nil {
		return "", err
	}
	target, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	if s.cfg.Policy != nil && !s.cfg.Policy.AllowURL(target) {
		return "", fmt.Errorf("%w: host is blocked", ErrInvalidURL)
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now().UTC()
	job := scrape.Job{
		ID:        jobID,
		URL:       target,
		Method:    method,
		Status:    scrape.JobStatusPending,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	item := scrape.QueueItem{
		JobID:     jobID,
		URL:       target,
		Method:    method,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.enqueue(ctx, item); err != nil {
		return "", err
	}
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("url", target),
		zap.String("method", string(method)),
	)
	return jobID, nil
}

// Status returns the current record for jobID, or scrape.ErrNotFound.
func (s *Service) Status(ctx context.Context, jobID string) (scrape.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return scrape.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns jobs matching filter, oldest first.
func (s *Service) List(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	jobs, err := s.store.List(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job record. A queued delivery for a deleted job is acked by
// the worker as unknown.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := s.store.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// Requeue re-enqueues every pending or processing job so work accepted before a
// crash is not stranded. The unfinished set is read before anything is enqueued,
// since running workers move jobs out of pending while the queue fills. Each
// enqueue waits for queue capacity until ctx ends. Returns the number enqueued.
func (s *Service) Requeue(ctx context.Context) (int, error) {
	unfinished, err := s.unfinished(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, job := range unfinished {
		item := scrape.QueueItem{
			JobID:     job.ID,
			URL:       job.URL,
			Method:    job.Method,
			Attempt:   1,
			Submitted: job.CreatedAt.Unix(),
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			return count, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		count++
	}
	if count > 0 {
		s.logger.Info("requeued unfinished jobs", zap.Int("count", count))
	}
	return count, nil
}

// unfinished lists pending jobs then processing jobs, oldest first.
func (s *Service) unfinished(ctx context.Context) ([]scrape.Job, error) {
	var out []scrape.Job
	for _, status := range []scrape.JobStatus{scrape.JobStatusPending, scrape.JobStatusProcessing} {
		filter := scrape.ListFilter{Status: &status}.Normalize()
		for {
			page, err := s.store.List(ctx, filter)
			if err != nil {
				return nil, fmt.Errorf("list %s jobs: %w", status, err)
			}
			out = append(out, page...)
			if len(page) < filter.Limit {
				break
			}
			filter.Offset += len(page)
		}
	}
	return out, nil
}

func (s *Service) enqueue(ctx context.Context, item scrape.QueueItem) error {
	queueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		s.logger.Warn("enqueue failed; job left pending",
			zap.String("job_id", item.JobID),
			zap.Error(err),
		)
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	return nil
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return parsed.String(), nil
}
