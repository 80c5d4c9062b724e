// Package memory provides an in-process job queue for single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue. A job id that is already queued or in
// flight is not enqueued twice; Nack puts the item back for redelivery.
type Queue struct {
	ch      chan scrape.QueueItem
	done    chan struct{}
	mu      sync.Mutex
	tracked map[string]struct{}
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan scrape.QueueItem, capacity),
		done:    make(chan struct{}),
		tracked: make(map[string]struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, dup := q.tracked[item.JobID]; dup {
		q.mu.Unlock()
		return nil
	}
	q.tracked[item.JobID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		q.untrack(item.JobID)
		return ErrClosed
	case <-ctx.Done():
		q.untrack(item.JobID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return nil, ErrClosed
	case item := <-q.ch:
		return &delivery{queue: q, item: item}, nil
	}
}

// Len reports the number of items waiting to be dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Pending items are dropped; their jobs stay in the store
// and are recovered by a later requeue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) untrack(jobID string) {
	q.mu.Lock()
	delete(q.tracked, jobID)
	q.mu.Unlock()
}

func (q *Queue) redeliver(item scrape.QueueItem) {
	item.Attempt++
	select {
	case q.ch <- item:
		return
	case <-q.done:
		q.untrack(item.JobID)
		return
	default:
	}
	go func() {
		select {
		case q.ch <- item:
		case <-q.done:
			q.untrack(item.JobID)
		}
	}()
}

type delivery struct {
	queue *Queue
	item  scrape.QueueItem
	once  sync.Once
}

func (d *delivery) Item() scrape.QueueItem { return d.item }

func (d *delivery) Ack() {
	d.once.Do(func() { d.queue.untrack(d.item.JobID) })
}

func (d *delivery) Nack() {
	d.once.Do(func() { d.queue.redeliver(d.item) })
}
