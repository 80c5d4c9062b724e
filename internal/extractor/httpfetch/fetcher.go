// Package httpfetch implements the lightweight extraction strategy: one HTTP GET
// through colly, with the page title parsed by goquery.
package httpfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/scrape-tasks/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond enables a per-host token bucket when positive.
	RequestsPerSecond float64
	Burst             int
}

// Extractor implements scrape.Extractor using the Colly collector.
type Extractor struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page accumulates what the collector callbacks observed for one visit.
type page struct {
	statusCode int
	finalURL   string
	body       []byte
	err        error
}

// New builds an Extractor. Transport and timeout live on the shared base collector;
// clones only add per-visit callbacks.
func New(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Clones share the visited-URL store and redirect checker, so revisits must be
	// allowed on the base for retries to reach the same URL again.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	e := &Extractor{cfg: cfg, baseCollector: c}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RequestsPerSecond,
			DefaultBurst: cfg.Burst,
		})
	}
	return e
}

// Extract fetches rawURL once and returns its title.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (scrape.Result, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			return scrape.Result{}, &scrape.NetworkError{Message: "rate limit wait aborted", Err: err}
		}
	}

	var p page
	collector := e.buildCollector(&p)
	if err := e.runCollector(ctx, collector, rawURL, &p); err != nil {
		return scrape.Result{}, err
	}

	title, err := parseTitle(p.body)
	if err != nil {
		return scrape.Result{}, &scrape.ContentError{Message: err.Error(), URL: rawURL}
	}
	return scrape.Result{
		URL:        rawURL,
		Title:      title,
		Success:    true,
		StatusCode: p.statusCode,
		FinalURL:   p.finalURL,
		Body:       p.body,
	}, nil
}

func (e *Extractor) buildCollector(p *page) *colly.Collector {
	collector := e.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	configureCollectorHooks(collector, p)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, p *page) {
	hooks.OnResponse(func(r *colly.Response) {
		p.statusCode = r.StatusCode
		if r.Request != nil && r.Request.URL != nil {
			p.finalURL = r.Request.URL.String()
		}
		p.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		p.err = err
		if r != nil && r.StatusCode > 0 {
			p.statusCode = r.StatusCode
		}
	})
}

func (e *Extractor) runCollector(ctx context.Context, collector *colly.Collector, url string, p *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &scrape.NetworkError{Message: "fetch canceled", Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			err = p.err
		}
		if err != nil {
			return classifyVisitError(err, p.statusCode)
		}
		if p.statusCode < http.StatusOK || p.statusCode >= http.StatusMultipleChoices {
			return &scrape.NetworkError{
				Message:    fmt.Sprintf("unexpected response %s", http.StatusText(p.statusCode)),
				StatusCode: p.statusCode,
			}
		}
		return nil
	}
}

func classifyVisitError(err error, status int) error {
	var netErr net.Error
	msg := err.Error()
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "request timed out"
	}
	return &scrape.NetworkError{Message: msg, StatusCode: status, Err: err}
}

func parseTitle(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return "", errors.New("no <title> element")
	}
	title := strings.TrimSpace(sel.Text())
	if title == "" {
		return "", errors.New("empty <title> element")
	}
	return title, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
