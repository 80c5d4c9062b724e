package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("expected memory drivers by default, got %q/%q", cfg.Store.Driver, cfg.Queue.Driver)
	}
	if cfg.HTTP.Retry.MaxAttempts != 3 || cfg.HTTP.Retry.Delay() != time.Second {
		t.Fatalf("unexpected http retry defaults: %+v", cfg.HTTP.Retry)
	}
	if cfg.Browser.WaitSelector != "title" {
		t.Fatalf("expected wait selector title, got %q", cfg.Browser.WaitSelector)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
worker:
  concurrency: 6
  queue_depth: 32
  write_timeout_seconds: 3
http:
  timeout_seconds: 45
  user_agent: real-agent
  requests_per_second: 2.5
  blocked_hosts: ["localhost", "*.internal"]
  retry:
    max_attempts: 5
    delay_ms: 250
browser:
  enabled: true
  max_parallel: 2
  remote_url: ws://chrome:9222
store:
  driver: postgres
  dsn: postgres://localhost/scrape
queue:
  driver: pubsub
  project_id: proj
  topic: jobs
  subscription: jobs-sub
archive:
  driver: gcs
  bucket: snapshots
events:
  driver: pubsub
  project_id: proj
  topic: job-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Worker.Concurrency != 6 || cfg.Worker.QueueDepth != 32 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if cfg.HTTP.RequestsPerSecond != 2.5 || cfg.HTTP.Retry.Delay() != 250*time.Millisecond {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if len(cfg.HTTP.BlockedHosts) != 2 || cfg.HTTP.BlockedHosts[1] != "*.internal" {
		t.Fatalf("expected blocked hosts to load: %v", cfg.HTTP.BlockedHosts)
	}
	if !cfg.Browser.Enabled || cfg.Browser.RemoteURL != "ws://chrome:9222" {
		t.Fatalf("expected browser overrides: %+v", cfg.Browser)
	}
	if cfg.Browser.Retry.MaxAttempts != 3 {
		t.Fatalf("expected browser retry default to survive, got %d", cfg.Browser.Retry.MaxAttempts)
	}
	if cfg.Store.Driver != "postgres" || cfg.Queue.Subscription != "jobs-sub" || cfg.Archive.Bucket != "snapshots" {
		t.Fatalf("expected backend overrides: %+v %+v %+v", cfg.Store, cfg.Queue, cfg.Archive)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if got := Seconds(cfg.Worker.WriteTimeoutSeconds); got != 3*time.Second {
		t.Fatalf("expected write timeout 3s, got %v", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCRAPER_SERVER_PORT", "7070")
	t.Setenv("SCRAPER_WORKER_CONCURRENCY", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Worker.Concurrency != 9 {
		t.Fatalf("expected env overrides, got port=%d concurrency=%d", cfg.Server.Port, cfg.Worker.Concurrency)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Worker:  WorkerConfig{Concurrency: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10, Retry: RetryConfig{MaxAttempts: 3}},
		Store:   StoreConfig{Driver: "memory"},
		Queue:   QueueConfig{Driver: "memory"},
		Archive: ArchiveConfig{Driver: "none"},
		Events:  EventsConfig{Driver: "none"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"invalid retry", func(c *Config) { c.HTTP.Retry.MaxAttempts = 0 }, "http.retry.max_attempts"},
		{"browser missing max parallel", func(c *Config) { c.Browser.Enabled = true }, "browser.max_parallel"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"pubsub queue without topic", func(c *Config) { c.Queue.Driver = "pubsub" }, "queue.project_id"},
		{"local archive without dir", func(c *Config) { c.Archive.Driver = "local" }, "archive.base_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Driver = "gcs" }, "archive.bucket"},
		{"pubsub events without topic", func(c *Config) { c.Events.Driver = "pubsub" }, "events.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
