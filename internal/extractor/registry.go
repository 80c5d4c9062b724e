// Package extractor maps parse methods to extraction strategies.
package extractor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// Strategy couples an Extractor with the retry policy it runs under.
type Strategy struct {
	Extractor scrape.Extractor
	Retry     scrape.RetryPolicy
}

// AttemptFunc observes one finished attempt. attempt is 1-based; err is nil on success.
type AttemptFunc func(attempt int, err error)

// Extract runs the strategy's extractor under its retry policy. observe may be nil.
func (s Strategy) Extract(ctx context.Context, url string, observe AttemptFunc) (scrape.Result, error) {
	attempt := 0
	return scrape.WithRetry(ctx, s.Retry, func(ctx context.Context) (scrape.Result, error) {
		attempt++
		res, err := s.Extractor.Extract(ctx, url)
		if observe != nil {
			observe(attempt, err)
		}
		return res, err
	})
}

// Registry resolves a Method to its Strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[scrape.Method]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[scrape.Method]Strategy)}
}

// Register installs s for method, replacing any previous strategy.
func (r *Registry) Register(method scrape.Method, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[method] = s
}

// Select returns the strategy registered for method.
func (r *Registry) Select(method scrape.Method) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.strategies[method]
	r.mu.RUnlock()
	if !ok || s.Extractor == nil {
		return Strategy{}, &scrape.ConfigurationError{
			Message: fmt.Sprintf("no extractor registered for method %q", method),
		}
	}
	return s, nil
}

// Methods lists registered methods in sorted order.
func (r *Registry) Methods() []scrape.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scrape.Method, 0, len(r.strategies))
	for m := range r.strategies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
