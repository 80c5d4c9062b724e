package app

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/api"
	"github.com/JakeFAU/scrape-tasks/internal/config"
	"github.com/JakeFAU/scrape-tasks/internal/extractor"
	"github.com/JakeFAU/scrape-tasks/internal/extractor/browser"
	"github.com/JakeFAU/scrape-tasks/internal/extractor/httpfetch"
	memorypublisher "github.com/JakeFAU/scrape-tasks/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/scrape-tasks/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/scrape-tasks/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/scrape-tasks/internal/queue/pubsub"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
	"github.com/JakeFAU/scrape-tasks/internal/storage/gcs"
	"github.com/JakeFAU/scrape-tasks/internal/storage/local"
	storememory "github.com/JakeFAU/scrape-tasks/internal/storage/memory"
	"github.com/JakeFAU/scrape-tasks/internal/storage/postgres"
	"github.com/JakeFAU/scrape-tasks/internal/storage/sqlite"
)

// builder turns config sections into adapters, registering each for Close.
type builder struct {
	ctx    context.Context
	cfg    config.Config
	logger *zap.Logger
	app    *App

	pubsubMu      sync.Mutex
	pubsubClients map[string]*pubsub.Client
}

func (b *builder) jobStore() (scrape.JobStore, map[string]api.ReadinessCheck, error) {
	cfg := b.cfg.Store
	switch cfg.Driver {
	case "memory":
		return storememory.NewJobStore(), nil, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		b.app.onClose("sqlite", store.Close)
		return store, map[string]api.ReadinessCheck{"store": store.Ping}, nil
	case "postgres":
		store, err := postgres.New(b.ctx, postgres.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		b.app.onClose("postgres", closeQuietly(store.Close))
		if cfg.Migrate {
			if err := store.Migrate(b.ctx); err != nil {
				return nil, nil, err
			}
		}
		return store, map[string]api.ReadinessCheck{"store": store.Ping}, nil
	default:
		return nil, nil, fmt.Errorf("%w: store %q", errUnsupportedDriver, cfg.Driver)
	}
}

func (b *builder) queue() (scrape.Queue, error) {
	cfg := b.cfg.Queue
	switch cfg.Driver {
	case "memory":
		q := queuememory.NewQueue(b.cfg.Worker.QueueDepth)
		b.app.onClose("queue", closeQuietly(q.Close))
		return q, nil
	case "pubsub":
		client, err := b.pubsubClient(cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		q := queuepubsub.New(client, cfg.Topic, cfg.Subscription, queuepubsub.Config{
			MaxOutstanding: cfg.MaxOutstanding,
		}, b.logger.Named("queue"))
		b.app.onClose("queue", closeQuietly(q.Close))
		return q, nil
	default:
		return nil, fmt.Errorf("%w: queue %q", errUnsupportedDriver, cfg.Driver)
	}
}

func (b *builder) archive() (scrape.BlobStore, error) {
	cfg := b.cfg.Archive
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(b.ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		b.app.onClose("gcs", client.Close)
		return gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
	default:
		return nil, fmt.Errorf("%w: archive %q", errUnsupportedDriver, cfg.Driver)
	}
}

func (b *builder) publisher() (scrape.Publisher, error) {
	cfg := b.cfg.Events
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		client, err := b.pubsubClient(cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		pub := pubsubpublisher.New(client)
		b.app.onClose("events", closeQuietly(pub.Close))
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: events %q", errUnsupportedDriver, cfg.Driver)
	}
}

func (b *builder) registry() (*extractor.Registry, error) {
	registry := extractor.NewRegistry()
	registry.Register(scrape.MethodHTTP, extractor.Strategy{
		Extractor: httpfetch.New(httpfetch.Config{
			UserAgent:         b.cfg.HTTP.UserAgent,
			Timeout:           config.Seconds(b.cfg.HTTP.TimeoutSeconds),
			RequestsPerSecond: b.cfg.HTTP.RequestsPerSecond,
			Burst:             b.cfg.HTTP.Burst,
		}),
		Retry: scrape.RetryPolicy{
			MaxAttempts: b.cfg.HTTP.Retry.MaxAttempts,
			Delay:       b.cfg.HTTP.Retry.Delay(),
		},
	})

	if !b.cfg.Browser.Enabled {
		return registry, nil
	}
	browserCfg := browser.Config{
		RemoteURL:         b.cfg.Browser.RemoteURL,
		ExecPath:          b.cfg.Browser.ExecPath,
		UserAgent:         b.cfg.HTTP.UserAgent,
		MaxParallel:       b.cfg.Browser.MaxParallel,
		NavigationTimeout: config.Seconds(b.cfg.Browser.NavTimeoutSeconds),
		WaitSelector:      b.cfg.Browser.WaitSelector,
		WaitTimeout:       config.Seconds(b.cfg.Browser.WaitTimeoutSeconds),
		CaptureHTML:       b.cfg.Browser.CaptureHTML,
	}
	factory := browser.NewChromeFactory(browserCfg)
	b.app.onClose("browser", closeQuietly(factory.Close))
	ext, err := browser.New(factory, browserCfg, b.logger.Named("browser"))
	if err != nil {
		return nil, err
	}
	registry.Register(scrape.MethodSelenium, extractor.Strategy{
		Extractor: ext,
		Retry: scrape.RetryPolicy{
			MaxAttempts: b.cfg.Browser.Retry.MaxAttempts,
			Delay:       b.cfg.Browser.Retry.Delay(),
		},
	})
	return registry, nil
}

func (b *builder) pubsubClient(projectID string) (*pubsub.Client, error) {
	b.pubsubMu.Lock()
	defer b.pubsubMu.Unlock()
	if client, ok := b.pubsubClients[projectID]; ok {
		return client, nil
	}
	client, err := pubsub.NewClient(b.ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if b.pubsubClients == nil {
		b.pubsubClients = make(map[string]*pubsub.Client)
	}
	b.pubsubClients[projectID] = client
	b.app.onClose("pubsub", client.Close)
	return client, nil
}
