// Package browser implements the browser-driven extraction strategy: the page is
// rendered in a real browser tab and the title read after a selector appears.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// Defaults applied by New when the config leaves a field empty.
const (
	DefaultWaitSelector      = "title"
	DefaultWaitTimeout       = 10 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
)

// Config controls the browser strategy.
type Config struct {
	// RemoteURL is a DevTools websocket endpoint; empty launches local headless Chrome.
	RemoteURL         string
	ExecPath          string
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
	WaitSelector      string
	WaitTimeout       time.Duration
	// CaptureHTML copies the rendered document into Result.Body for archiving.
	CaptureHTML bool
}

// Extractor implements scrape.Extractor with one fresh Session per call.
type Extractor struct {
	cfg     Config
	factory SessionFactory
	limiter chan struct{}
	logger  *zap.Logger
}

// New creates a browser extractor backed by factory.
func New(factory SessionFactory, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = DefaultWaitSelector
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Extractor{cfg: cfg, factory: factory, limiter: limiter, logger: logger}, nil
}

// Extract renders rawURL and returns its title. The session is closed on every path.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (scrape.Result, error) {
	if err := e.acquire(ctx); err != nil {
		return scrape.Result{}, &scrape.NetworkError{Message: "browser slot wait aborted", Err: err}
	}
	defer e.release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()

	session, err := e.factory.Open(ctx)
	if err != nil {
		return scrape.Result{}, &scrape.NetworkError{Message: "open browser session", Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Warn("browser session close failed", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, rawURL); err != nil {
		return scrape.Result{}, &scrape.NetworkError{Message: "navigation failed", Err: err}
	}

	if err := session.WaitForElement(ctx, e.cfg.WaitSelector, e.cfg.WaitTimeout); err != nil {
		if errors.Is(err, ErrElementTimeout) {
			return scrape.Result{}, &scrape.ContentError{
				Message: fmt.Sprintf("element not found: %s", e.cfg.WaitSelector),
				URL:     rawURL,
				Err:     err,
			}
		}
		return scrape.Result{}, &scrape.NetworkError{Message: "wait for element failed", Err: err}
	}

	title, err := session.Title(ctx)
	if err != nil {
		return scrape.Result{}, &scrape.NetworkError{Message: "read title failed", Err: err}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return scrape.Result{}, &scrape.ContentError{Message: "empty page title", URL: rawURL}
	}

	finalURL, err := session.Location(ctx)
	if err != nil {
		e.logger.Debug("browser location unavailable", zap.String("url", rawURL), zap.Error(err))
		finalURL = rawURL
	}

	result := scrape.Result{
		URL:      rawURL,
		Title:    title,
		Success:  true,
		FinalURL: finalURL,
	}
	if e.cfg.CaptureHTML {
		if html, err := session.HTML(ctx); err == nil {
			result.Body = []byte(html)
		} else {
			e.logger.Debug("browser document unavailable", zap.String("url", rawURL), zap.Error(err))
		}
	}
	return result, nil
}

func (e *Extractor) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (e *Extractor) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}
