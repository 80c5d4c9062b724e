package scrape

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records. SetStatus is the only mutation path after Create
// and must reject transitions that CanTransition forbids.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	SetStatus(ctx context.Context, jobID string, update StatusUpdate) (Job, error)
	List(ctx context.Context, filter ListFilter) ([]Job, error)
	Delete(ctx context.Context, jobID string) error
}

// Extractor turns a URL into a Result or a classified failure.
type Extractor interface {
	Extract(ctx context.Context, url string) (Result, error)
}

// Queue provides at-least-once enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// Delivery is one dequeued item. Exactly one of Ack or Nack should be called;
// Nack makes the item eligible for redelivery.
type Delivery interface {
	Item() QueueItem
	Ack()
	Nack()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
