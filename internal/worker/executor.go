package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/extractor"
	"github.com/JakeFAU/scrape-tasks/internal/metrics"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const defaultWriteTimeout = 10 * time.Second

// Config controls Executor and Worker behavior.
type Config struct {
	// ContentType is attached to archived snapshots.
	ContentType string
	// BlobPrefix is prepended to snapshot paths: <prefix>/<job_id>/<sha256>.html.
	BlobPrefix string
	// Topic receives completion events when a publisher is configured.
	Topic string
	// WriteTimeout bounds terminal writes issued after the job context is canceled.
	WriteTimeout time.Duration
	// DequeueBackoff is the pause after a failed dequeue.
	DequeueBackoff time.Duration
}

// Executor drives a single job through its state machine.
type Executor struct {
	jobStore  scrape.JobStore
	registry  *extractor.Registry
	blobStore scrape.BlobStore
	publisher scrape.Publisher
	hasher    scrape.Hasher
	clock     scrape.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewExecutor constructs an Executor. blobStore, hasher and publisher may be nil.
func NewExecutor(
	jobStore scrape.JobStore,
	registry *extractor.Registry,
	blobStore scrape.BlobStore,
	publisher scrape.Publisher,
	hasher scrape.Hasher,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		jobStore:  jobStore,
		registry:  registry,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the job referenced by item. It returns nil on success or when the
// delivery is a duplicate of a finished job, the classified extraction failure once
// that failure is recorded, or an error wrapping scrape.ErrPersist when job state
// could not be written and the delivery should be retried.
func (e *Executor) Execute(ctx context.Context, item scrape.QueueItem) error {
	logger := e.logger.With(zap.String("job_id", item.JobID))

	job, err := e.jobStore.Get(ctx, item.JobID)
	switch {
	case errors.Is(err, scrape.ErrNotFound):
		logger.Warn("job not found, dropping delivery")
		return err
	case err != nil:
		return fmt.Errorf("%w: load job: %w", scrape.ErrPersist, err)
	}
	if job.Status.IsTerminal() {
		logger.Info("job already finished, ignoring redelivery", zap.String("status", string(job.Status)))
		metrics.ObserveJob(string(job.Method), "redelivered")
		return nil
	}

	logger = logger.With(zap.String("url", job.URL), zap.String("method", string(job.Method)))
	if _, err := e.jobStore.SetStatus(ctx, job.ID, scrape.StatusUpdate{Status: scrape.JobStatusProcessing}); err != nil {
		if errors.Is(err, scrape.ErrInvalidTransition) {
			logger.Info("job finished concurrently, ignoring delivery")
			return nil
		}
		return fmt.Errorf("%w: mark processing: %w", scrape.ErrPersist, err)
	}
	metrics.ObserveJob(string(job.Method), string(scrape.JobStatusProcessing))
	logger.Debug("job processing", zap.Int("attempt", item.Attempt))

	result, extractErr := e.extract(ctx, job, logger)

	// The job context may already be canceled; the terminal write must still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
	defer cancel()

	if extractErr != nil {
		return e.fail(writeCtx, job, extractErr, logger)
	}
	return e.complete(ctx, writeCtx, job, result, logger)
}

func (e *Executor) extract(ctx context.Context, job scrape.Job, logger *zap.Logger) (scrape.Result, error) {
	strategy, err := e.registry.Select(job.Method)
	if err != nil {
		return scrape.Result{}, err
	}

	method := string(job.Method)
	strategy.Retry.OnRetry = func(attempt int, err error) {
		logger.Warn("extraction attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status_code", scrape.StatusCode(err)),
			zap.Error(err),
		)
	}

	start := time.Now()
	defer func() { metrics.ObserveExtraction(method, time.Since(start)) }()
	return strategy.Extract(ctx, job.URL, func(_ int, err error) {
		outcome := "success"
		if err != nil {
			outcome = scrape.Kind(err)
		}
		metrics.ObserveAttempt(method, outcome)
	})
}

func (e *Executor) complete(
	ctx context.Context,
	writeCtx context.Context,
	job scrape.Job,
	result scrape.Result,
	logger *zap.Logger,
) error {
	e.archive(ctx, job.ID, &result, logger)
	result.Body = nil

	final, err := e.jobStore.SetStatus(writeCtx, job.ID, scrape.StatusUpdate{
		Status: scrape.JobStatusDone,
		Result: &result,
		At:     e.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTransition) {
			logger.Info("job finished concurrently, result discarded")
			return nil
		}
		logger.Error("terminal write failed", zap.Error(err))
		return fmt.Errorf("%w: mark done: %w", scrape.ErrPersist, err)
	}
	metrics.ObserveJob(string(job.Method), string(scrape.JobStatusDone))
	logger.Info("job done", zap.String("title", result.Title), zap.Int("status_code", result.StatusCode))
	e.publish(writeCtx, final, logger)
	return nil
}

func (e *Executor) fail(writeCtx context.Context, job scrape.Job, cause error, logger *zap.Logger) error {
	final, err := e.jobStore.SetStatus(writeCtx, job.ID, scrape.StatusUpdate{
		Status:       scrape.JobStatusError,
		ErrorMessage: scrape.Describe(cause),
		At:           e.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTransition) {
			logger.Info("job finished concurrently, failure discarded", zap.NamedError("cause", cause))
			return nil
		}
		logger.Error("terminal write failed", zap.Error(err), zap.NamedError("cause", cause))
		return fmt.Errorf("%w: mark error: %w", scrape.ErrPersist, err)
	}
	metrics.ObserveJob(string(job.Method), string(scrape.JobStatusError))
	logger.Warn("job failed", zap.String("kind", scrape.Kind(cause)), zap.Error(cause))
	e.publish(writeCtx, final, logger)
	return cause
}

// archive stores the raw document. Failures are logged and never fail the job.
func (e *Executor) archive(ctx context.Context, jobID string, result *scrape.Result, logger *zap.Logger) {
	if e.blobStore == nil || e.hasher == nil || len(result.Body) == 0 {
		return
	}
	hash, err := e.hasher.Hash(result.Body)
	if err != nil {
		logger.Warn("hash snapshot failed", zap.Error(err))
		return
	}
	uri, err := e.blobStore.PutObject(ctx, e.buildBlobPath(jobID, hash), e.cfg.ContentType, bytes.NewReader(result.Body))
	if err != nil {
		logger.Warn("archive snapshot failed", zap.Error(err))
		return
	}
	metrics.ObserveSnapshot(len(result.Body))
	result.ContentHash = hash
	result.SnapshotURI = uri
}

func (e *Executor) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (e *Executor) publish(ctx context.Context, job scrape.Job, logger *zap.Logger) {
	if e.cfg.Topic == "" || e.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    job.ID,
		"url":       job.URL,
		"method":    job.Method,
		"status":    job.Status,
		"timestamp": e.clock.Now().UTC().Format(time.RFC3339),
	}
	if job.Result != nil {
		payload["title"] = job.Result.Title
		payload["snapshot_uri"] = job.Result.SnapshotURI
	}
	if job.ErrorMessage != "" {
		payload["error_message"] = job.ErrorMessage
	}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish completion event failed", zap.Error(err))
		return
	}
	logger.Debug("completion event published", zap.String("message_id", id))
}
