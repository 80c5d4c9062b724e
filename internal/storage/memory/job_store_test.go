package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := scrape.Job{ID: "job-1", URL: "https://example.com", Method: scrape.MethodHTTP, Status: scrape.JobStatusPending}

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, job); !errors.Is(err, scrape.ErrAlreadyExists) {
		t.Fatalf("expected duplicate job error, got %v", err)
	}
	if _, err := store.SetStatus(ctx, job.ID, scrape.StatusUpdate{Status: scrape.JobStatusProcessing}); err != nil {
		t.Fatalf("SetStatus processing error = %v", err)
	}

	at := time.Unix(100, 0).UTC()
	final, err := store.SetStatus(ctx, job.ID, scrape.StatusUpdate{
		Status: scrape.JobStatusDone,
		Result: &scrape.Result{Title: "Example", Success: true, Body: []byte("<html>")},
		At:     at,
	})
	if err != nil {
		t.Fatalf("SetStatus done error = %v", err)
	}
	if final.CompletedAt == nil || !final.CompletedAt.Equal(at) {
		t.Fatalf("expected completed_at %v, got %v", at, final.CompletedAt)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Result == nil || got.Result.Title != "Example" || got.Result.Body != nil {
		t.Fatalf("unexpected stored result %+v", got.Result)
	}

	got.Result.Title = "mutated"
	again, _ := store.Get(ctx, job.ID)
	if again.Result.Title != "Example" {
		t.Fatal("expected Get to return a copy")
	}

	if _, err := store.SetStatus(ctx, job.ID, scrape.StatusUpdate{Status: scrape.JobStatusError, ErrorMessage: "late"}); !errors.Is(err, scrape.ErrInvalidTransition) {
		t.Fatalf("expected terminal job to reject writes, got %v", err)
	}
	after, _ := store.Get(ctx, job.ID)
	if after.Status != scrape.JobStatusDone || !after.CompletedAt.Equal(at) {
		t.Fatalf("terminal record changed: %+v", after)
	}
}

func TestJobStoreUnknownID(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, scrape.ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.SetStatus(ctx, "nope", scrape.StatusUpdate{Status: scrape.JobStatusProcessing}); !errors.Is(err, scrape.ErrNotFound) {
		t.Fatalf("SetStatus: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "nope"); !errors.Is(err, scrape.ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestJobStoreSkipsPendingToDone(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	_ = store.Create(ctx, scrape.Job{ID: "j", Status: scrape.JobStatusPending})

	_, err := store.SetStatus(ctx, "j", scrape.StatusUpdate{Status: scrape.JobStatusDone, Result: &scrape.Result{}})
	if !errors.Is(err, scrape.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestJobStoreListFiltersAndPages(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i := range 5 {
		job := scrape.Job{
			ID:        fmt.Sprintf("job-%d", i),
			Status:    scrape.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = store.SetStatus(ctx, "job-3", scrape.StatusUpdate{Status: scrape.JobStatusProcessing})

	pending := scrape.JobStatusPending
	jobs, err := store.List(ctx, scrape.ListFilter{Status: &pending, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-1" || jobs[1].ID != "job-2" {
		t.Fatalf("unexpected page %+v", jobs)
	}

	all, _ := store.List(ctx, scrape.ListFilter{})
	if len(all) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(all))
	}
	empty, _ := store.List(ctx, scrape.ListFilter{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}

	if err := store.Delete(ctx, "job-0"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "job-0"); !errors.Is(err, scrape.ErrNotFound) {
		t.Fatalf("expected deleted job to be gone, got %v", err)
	}
}

func TestJobStoreConcurrentTerminalWritesOneWins(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	_ = store.Create(ctx, scrape.Job{ID: "race", Status: scrape.JobStatusPending})
	_, _ = store.SetStatus(ctx, "race", scrape.StatusUpdate{Status: scrape.JobStatusProcessing})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update := scrape.StatusUpdate{Status: scrape.JobStatusDone, Result: &scrape.Result{Title: "t"}}
			if i%2 == 1 {
				update = scrape.StatusUpdate{Status: scrape.JobStatusError, ErrorMessage: "boom"}
			}
			if _, err := store.SetStatus(ctx, "race", update); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", wins)
	}
}
