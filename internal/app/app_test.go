package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/app"
	"github.com/JakeFAU/scrape-tasks/internal/config"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
	"github.com/JakeFAU/scrape-tasks/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Worker: config.WorkerConfig{Concurrency: 2, QueueDepth: 8, WriteTimeoutSeconds: 2, RequeueOnStart: true},
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 2,
			UserAgent:      "scrape-tasks-test",
			Retry:          config.RetryConfig{MaxAttempts: 2, DelayMs: 10},
		},
		Store:   config.StoreConfig{Driver: "memory"},
		Queue:   config.QueueConfig{Driver: "memory"},
		Archive: config.ArchiveConfig{Driver: "local", BaseDir: t.TempDir(), Prefix: "snapshots"},
		Events:  config.EventsConfig{Driver: "memory", Topic: "job-events"},
	}
}

func TestNew_EndToEnd(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Example Domain</title></head></html>"))
	}))
	defer target.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	done := make(chan struct{})
	go func() {
		a.RunWorkers(ctx)
		close(done)
	}()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"url":"`+target.URL+`","method":"http"}`))
	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	require.Eventually(t, func() bool {
		job, err := a.Jobs.Status(ctx, submitted.JobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	job, err := a.Jobs.Status(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, scrape.JobStatusDone, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Example Domain", job.Result.Title)
	assert.True(t, strings.HasPrefix(job.Result.SnapshotURI, "file://"))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestNew_SeleniumUnavailableWhenBrowserDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	go a.RunWorkers(ctx)

	id, err := a.Jobs.Submit(ctx, "https://example.com", "selenium")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := a.Jobs.Status(ctx, id)
		return err == nil && job.Status == scrape.JobStatusError
	}, 5*time.Second, 20*time.Millisecond)

	job, err := a.Jobs.Status(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, job.ErrorMessage, "configuration error")
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Driver: "sqlite", SQLitePath: t.TempDir() + "/jobs.db"}

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunWorkers_DrainsBacklogLargerThanQueue(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Backlog</title></head></html>"))
	}))
	defer target.Close()

	dbPath := t.TempDir() + "/jobs.db"
	seed, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	const backlog = 12
	created := time.Unix(1_700_000_000, 0).UTC()
	for i := range backlog {
		status := scrape.JobStatusPending
		if i%4 == 0 {
			status = scrape.JobStatusProcessing
		}
		require.NoError(t, seed.Create(context.Background(), scrape.Job{
			ID:        fmt.Sprintf("backlog-%02d", i),
			URL:       fmt.Sprintf("%s/page/%d", target.URL, i),
			Method:    scrape.MethodHTTP,
			Status:    status,
			CreatedAt: created.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, seed.Close())

	cfg := testConfig(t)
	cfg.Worker.Concurrency = 1
	cfg.Worker.QueueDepth = 2
	cfg.Worker.RequeueOnStart = true
	cfg.Store = config.StoreConfig{Driver: "sqlite", SQLitePath: dbPath}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	done := make(chan struct{})
	go func() {
		a.RunWorkers(ctx)
		close(done)
	}()

	doneStatus := scrape.JobStatusDone
	require.Eventually(t, func() bool {
		finished, err := a.Store.List(ctx, scrape.ListFilter{Status: &doneStatus, Limit: 100})
		return err == nil && len(finished) == backlog
	}, 10*time.Second, 20*time.Millisecond)

	select {
	case <-done:
		t.Fatal("workers stopped before cancel")
	default:
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestClose_IsIdempotent(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	a.Close()
	a.Close()
}
