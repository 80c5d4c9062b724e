// Package pubsub implements scrape.Queue on Google Cloud Pub/Sub: items are
// published to a topic and consumed from a subscription.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

// JobIDAttribute carries the job id on every message for filtering and tracing.
const JobIDAttribute = "job_id"

// Config tunes the subscriber.
type Config struct {
	// MaxOutstanding bounds unacknowledged messages held by this process.
	MaxOutstanding int
	// RestartDelay is the pause before Receive is restarted after an error.
	RestartDelay time.Duration
}

// Queue publishes QueueItems as JSON and hands received messages to Dequeue.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	cfg    Config
	logger *zap.Logger

	msgs      chan *pubsub.Message
	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a Queue over an existing topic and subscription.
func New(client *pubsub.Client, topicID, subscriptionID string, cfg Config, logger *zap.Logger) *Queue {
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 10
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		topic:  client.Topic(topicID),
		sub:    sub,
		cfg:    cfg,
		logger: logger,
		msgs:   make(chan *pubsub.Message),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue publishes item and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{JobIDAttribute: item.JobID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until a message arrives. Undecodable messages are acked and skipped.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Delivery, error) {
	q.startOnce.Do(q.start)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ctx.Done():
			return nil, fmt.Errorf("queue closed: %w", q.ctx.Err())
		case msg := <-q.msgs:
			var item scrape.QueueItem
			if err := json.Unmarshal(msg.Data, &item); err != nil || item.JobID == "" {
				q.logger.Error("dropping malformed queue message",
					zap.String("message_id", msg.ID),
					zap.String("job_id", msg.Attributes[JobIDAttribute]),
					zap.Error(err),
				)
				msg.Ack()
				continue
			}
			if msg.DeliveryAttempt != nil {
				item.Attempt = *msg.DeliveryAttempt
			}
			return &delivery{msg: msg, item: item}, nil
		}
	}
}

// Close stops receiving and flushes pending publishes. Held messages are nacked.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
	q.topic.Stop()
}

func (q *Queue) start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			err := q.sub.Receive(q.ctx, q.handle)
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Error("pubsub receive stopped, restarting", zap.Error(err))
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.cfg.RestartDelay):
			}
		}
	}()
}

// handle parks msg until a Dequeue call takes it.
func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	select {
	case q.msgs <- msg:
	case <-ctx.Done():
		msg.Nack()
	}
}

type delivery struct {
	msg  *pubsub.Message
	item scrape.QueueItem
}

func (d *delivery) Item() scrape.QueueItem { return d.item }
func (d *delivery) Ack()                   { d.msg.Ack() }
func (d *delivery) Nack()                  { d.msg.Nack() }
