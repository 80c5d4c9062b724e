// Package memory provides in-process JobStore and BlobStore implementations for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// JobStore is a map-backed scrape.JobStore. All transitions happen under one lock,
// so concurrent SetStatus calls on a job are serialized.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// Create stores a new job record.
func (s *JobStore) Create(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, scrape.ErrAlreadyExists)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	return cloneJob(job), nil
}

// SetStatus applies update if the transition is legal.
func (s *JobStore) SetStatus(_ context.Context, jobID string, update scrape.StatusUpdate) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.ErrNotFound
	}
	next, err := update.Apply(job)
	if err != nil {
		return cloneJob(job), err
	}
	s.jobs[jobID] = cloneJob(next)
	return cloneJob(next), nil
}

// List returns jobs ordered by creation time.
func (s *JobStore) List(_ context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return []scrape.Job{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes a job record.
func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return scrape.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func cloneJob(job scrape.Job) scrape.Job {
	if job.Result != nil {
		r := *job.Result
		r.Body = nil
		job.Result = &r
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	return job
}
