package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ErrElementTimeout is returned by WaitForElement when the selector never appears.
var ErrElementTimeout = errors.New("element wait timed out")

// Session is one exclusive browser tab. It is never shared between extractions.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens fresh sessions against a browser backend.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// ChromeFactory opens chromedp tabs on a local headless Chrome or a remote
// DevTools endpoint.
type ChromeFactory struct {
	allocator   context.Context
	allocCancel context.CancelFunc
	userAgent   string
}

// NewChromeFactory prepares the allocator. No browser is started until Open.
func NewChromeFactory(cfg Config) *ChromeFactory {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return &ChromeFactory{
		allocator:   allocCtx,
		allocCancel: allocCancel,
		userAgent:   cfg.UserAgent,
	}
}

// Close shuts down the allocator and every tab it owns.
func (f *ChromeFactory) Close() {
	f.allocCancel()
}

// Open starts a new tab. The first Run on a fresh context launches or attaches the browser.
func (f *ChromeFactory) Open(ctx context.Context) (Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	s := &chromeSession{ctx: tabCtx, cancel: tabCancel}

	setup := chromedp.ActionFunc(func(ctx context.Context) error {
		if f.userAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
	// The first Run binds the browser to tabCtx itself; a derived context here
	// would tear the browser down as soon as it was cancelled.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, setup)
	if !stop() || err != nil {
		tabCancel()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab while honoring the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("browser action canceled: %w", ctx.Err())
		}
		return err
	}
	return nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (s *chromeSession) WaitForElement(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrElementTimeout, selector)
	}
	return fmt.Errorf("wait for %s: %w", selector, err)
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	defer s.cancel()
	if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}
