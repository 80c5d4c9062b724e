// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Browser BrowserConfig `mapstructure:"browser"`
	Store   StoreConfig   `mapstructure:"store"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// WorkerConfig governs the worker pool and the terminal-write budget.
type WorkerConfig struct {
	Concurrency         int  `mapstructure:"concurrency"`
	QueueDepth          int  `mapstructure:"queue_depth"`
	WriteTimeoutSeconds int  `mapstructure:"write_timeout_seconds"`
	RequeueOnStart      bool `mapstructure:"requeue_on_start"`
}

// RetryConfig is the per-strategy retry bound.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	DelayMs     int `mapstructure:"delay_ms"`
}

// HTTPConfig configures the lightweight fetch strategy.
type HTTPConfig struct {
	TimeoutSeconds    int         `mapstructure:"timeout_seconds"`
	UserAgent         string      `mapstructure:"user_agent"`
	RequestsPerSecond float64     `mapstructure:"requests_per_second"`
	Burst             int         `mapstructure:"burst"`
	BlockedHosts      []string    `mapstructure:"blocked_hosts"`
	Retry             RetryConfig `mapstructure:"retry"`
}

// BrowserConfig configures the browser-driven strategy.
type BrowserConfig struct {
	Enabled            bool        `mapstructure:"enabled"`
	RemoteURL          string      `mapstructure:"remote_url"`
	ExecPath           string      `mapstructure:"exec_path"`
	MaxParallel        int         `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int         `mapstructure:"nav_timeout_seconds"`
	WaitSelector       string      `mapstructure:"wait_selector"`
	WaitTimeoutSeconds int         `mapstructure:"wait_timeout_seconds"`
	CaptureHTML        bool        `mapstructure:"capture_html"`
	Retry              RetryConfig `mapstructure:"retry"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Table      string `mapstructure:"table"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
	Migrate    bool   `mapstructure:"migrate"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Driver         string `mapstructure:"driver"`
	ProjectID      string `mapstructure:"project_id"`
	Topic          string `mapstructure:"topic"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// ArchiveConfig controls raw HTML snapshot persistence.
type ArchiveConfig struct {
	Driver      string `mapstructure:"driver"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// EventsConfig controls completion event publishing.
type EventsConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.write_timeout_seconds", 10)
	v.SetDefault("worker.requeue_on_start", true)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "scrape-tasks/0.1")
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.retry.max_attempts", 3)
	v.SetDefault("http.retry.delay_ms", 1000)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.wait_selector", "title")
	v.SetDefault("browser.wait_timeout_seconds", 10)
	v.SetDefault("browser.capture_html", true)
	v.SetDefault("browser.retry.max_attempts", 3)
	v.SetDefault("browser.retry.delay_ms", 2000)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.table", "scrape_jobs")
	v.SetDefault("store.sqlite_path", "scrape-tasks.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.migrate", true)
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.max_outstanding", 10)
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("events.driver", "none")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("http.retry.max_attempts must be > 0")
	}
	if c.Browser.Enabled {
		if c.Browser.MaxParallel <= 0 {
			return fmt.Errorf("browser.max_parallel must be > 0 when the browser is enabled")
		}
		if c.Browser.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("browser.retry.max_attempts must be > 0")
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Queue.Driver {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription are required for pubsub")
		}
	default:
		return fmt.Errorf("queue.driver %q is not supported", c.Queue.Driver)
	}
	switch c.Archive.Driver {
	case "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local driver")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("events.driver %q is not supported", c.Events.Driver)
	}
	return nil
}

// Seconds converts an integer seconds setting into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Delay returns the retry delay as a Duration.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}
