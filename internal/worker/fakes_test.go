package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
	"github.com/JakeFAU/scrape-tasks/internal/storage/memory"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	results []error
	result  scrape.Result
	hook    func(ctx context.Context) error
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (scrape.Result, error) {
	f.mu.Lock()
	f.calls++
	idx := f.calls - 1
	f.mu.Unlock()
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return scrape.Result{}, err
		}
	}
	if idx < len(f.results) && f.results[idx] != nil {
		return scrape.Result{}, f.results[idx]
	}
	res := f.result
	res.URL = url
	res.Success = true
	return res, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingStore wraps the in-memory store, remembering every status written and
// optionally failing writes to one status.
type recordingStore struct {
	*memory.JobStore
	mu       sync.Mutex
	history  []scrape.JobStatus
	failOn   scrape.JobStatus
	failErr  error
	writeCtx []error // ctx.Err() observed by each SetStatus call
}

func newRecordingStore() *recordingStore {
	return &recordingStore{JobStore: memory.NewJobStore()}
}

func (s *recordingStore) SetStatus(ctx context.Context, id string, u scrape.StatusUpdate) (scrape.Job, error) {
	s.mu.Lock()
	s.writeCtx = append(s.writeCtx, ctx.Err())
	fail := s.failOn != "" && s.failOn == u.Status
	s.mu.Unlock()
	if fail {
		return scrape.Job{}, s.failErr
	}
	job, err := s.JobStore.SetStatus(ctx, id, u)
	if err == nil {
		s.mu.Lock()
		s.history = append(s.history, u.Status)
		s.mu.Unlock()
	}
	return job, err
}

func (s *recordingStore) statuses() []scrape.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scrape.JobStatus(nil), s.history...)
}

type fakeDelivery struct {
	item  scrape.QueueItem
	mu    sync.Mutex
	acks  int
	nacks int
}

func (d *fakeDelivery) Item() scrape.QueueItem { return d.item }

func (d *fakeDelivery) Ack() {
	d.mu.Lock()
	d.acks++
	d.mu.Unlock()
}

func (d *fakeDelivery) Nack() {
	d.mu.Lock()
	d.nacks++
	d.mu.Unlock()
}

func (d *fakeDelivery) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks, d.nacks
}

type fakeQueue struct {
	mu         sync.Mutex
	deliveries []*fakeDelivery
	failFirst  int
}

func (q *fakeQueue) Enqueue(_ context.Context, item scrape.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deliveries = append(q.deliveries, &fakeDelivery{item: item})
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (scrape.Delivery, error) {
	for {
		q.mu.Lock()
		if q.failFirst > 0 {
			q.failFirst--
			q.mu.Unlock()
			return nil, errors.New("queue unavailable")
		}
		if len(q.deliveries) > 0 {
			d := q.deliveries[0]
			q.deliveries = q.deliveries[1:]
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fakeBlobStore struct {
	mu       sync.Mutex
	lastPath string
	data     []byte
	err      error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPath = path
	b.data = data
	return "memory://" + path, nil
}

type fakeHasher struct{ hash string }

func (h fakeHasher) Hash([]byte) (string, error) { return h.hash, nil }

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []map[string]any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, payload.(map[string]any))
	return "msg-1", nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }
