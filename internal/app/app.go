// Package app builds the long-lived services from configuration and owns their
// shutdown. It acts as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/api"
	"github.com/JakeFAU/scrape-tasks/internal/clock/system"
	"github.com/JakeFAU/scrape-tasks/internal/config"
	"github.com/JakeFAU/scrape-tasks/internal/dispatcher"
	"github.com/JakeFAU/scrape-tasks/internal/hash/sha256"
	"github.com/JakeFAU/scrape-tasks/internal/id/uuid"
	"github.com/JakeFAU/scrape-tasks/internal/jobs"
	"github.com/JakeFAU/scrape-tasks/internal/metrics"
	"github.com/JakeFAU/scrape-tasks/internal/policy/hostpolicy"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
	"github.com/JakeFAU/scrape-tasks/internal/worker"
)

// App holds the shared services for one process.
type App struct {
	Logger     *zap.Logger
	Store      scrape.JobStore
	Queue      scrape.Queue
	Dispatcher *dispatcher.Dispatcher
	Jobs       *jobs.Service
	Server     *api.Server

	cfg     config.Config
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New initializes every service named by cfg. It fails fast: anything already
// opened is closed before the error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a = &App{Logger: logger, cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	b := &builder{ctx: ctx, cfg: cfg, logger: logger, app: a}

	store, readiness, err := b.jobStore()
	if err != nil {
		return nil, fmt.Errorf("init job store: %w", err)
	}
	a.Store = store

	queue, err := b.queue()
	if err != nil {
		return nil, fmt.Errorf("init queue: %w", err)
	}
	a.Queue = queue

	blobStore, err := b.archive()
	if err != nil {
		return nil, fmt.Errorf("init archive: %w", err)
	}
	publisher, err := b.publisher()
	if err != nil {
		return nil, fmt.Errorf("init events publisher: %w", err)
	}
	registry, err := b.registry()
	if err != nil {
		return nil, fmt.Errorf("init extractors: %w", err)
	}

	clock := system.New()
	executor := worker.NewExecutor(
		store,
		registry,
		blobStore,
		publisher,
		sha256.New(),
		clock,
		worker.Config{
			ContentType:  cfg.Archive.ContentType,
			BlobPrefix:   cfg.Archive.Prefix,
			Topic:        cfg.Events.Topic,
			WriteTimeout: config.Seconds(cfg.Worker.WriteTimeoutSeconds),
		},
		logger.Named("worker"),
	)
	workers := make([]*worker.Worker, 0, cfg.Worker.Concurrency)
	for i := range cfg.Worker.Concurrency {
		workers = append(workers, worker.New(queue, executor, worker.Config{}, logger.Named("worker").With(zap.Int("index", i))))
	}
	a.Dispatcher = dispatcher.New(queue, workers)

	a.Jobs = jobs.NewService(store, a.Dispatcher, uuid.New(), clock, jobs.Config{
		Policy: hostpolicy.New(cfg.HTTP.BlockedHosts),
	}, logger.Named("jobs"))
	a.Server = api.NewServer(a.Jobs, api.Options{
		RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSeconds),
		Readiness:      readiness,
	}, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("queue", cfg.Queue.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("events", cfg.Events.Driver),
		zap.Any("methods", registry.Methods()),
	)
	return a, nil
}

// RunWorkers blocks running the worker pool until ctx is canceled. When configured,
// unfinished jobs are re-enqueued alongside the pool so a backlog larger than the
// queue is drained while it is refilled. A failed requeue is logged; the jobs stay
// in the store for the next start.
func (a *App) RunWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	if a.cfg.Worker.RequeueOnStart {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := a.Jobs.Requeue(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("requeue unfinished jobs failed", zap.Int("requeued", n), zap.Error(err))
			}
		}()
	}
	a.Logger.Info("dispatcher started", zap.Int("workers", a.Dispatcher.Size()))
	a.Dispatcher.Run(ctx)
	wg.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) == 0 {
		a.Logger.Debug("application services closed")
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func closeQuietly(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}

var errUnsupportedDriver = errors.New("unsupported driver")
