// Package worker executes scrape jobs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/metrics"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const defaultDequeueBackoff = 200 * time.Millisecond

// Worker consumes queue deliveries and hands them to an Executor.
type Worker struct {
	queue    scrape.Queue
	executor *Executor
	backoff  time.Duration
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue scrape.Queue, executor *Executor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = defaultDequeueBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		executor: executor,
		backoff:  cfg.DequeueBackoff,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery scrape.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	item := delivery.Item()
	w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))

	err := w.executor.Execute(ctx, item)
	switch {
	case err == nil:
		delivery.Ack()
	case errors.Is(err, scrape.ErrPersist):
		w.logger.Error("job state not persisted, redelivering", zap.String("job_id", item.JobID), zap.Error(err))
		delivery.Nack()
	default:
		// The failure is already recorded on the job.
		delivery.Ack()
	}
}
