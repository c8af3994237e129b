package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// defaultDurable is the durable consumer shared by all workers of a
// queue unless WithDurable names one.
const defaultDurable = "worker"

// JetStreamBroker implements Broker on JetStream work-queue streams.
type JetStreamBroker struct {
	js           jetstream.JetStream
	prefix       string
	lockDuration time.Duration
	maxDeliver   int
	durables     map[string]string
	logger       *slog.Logger

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

// JetStreamOption configures a JetStreamBroker.
type JetStreamOption func(*JetStreamBroker)

// WithLockDuration sets the per-message lease duration (consumer AckWait).
func WithLockDuration(d time.Duration) JetStreamOption {
	return func(b *JetStreamBroker) { b.lockDuration = d }
}

// WithMaxDeliver sets the delivery ceiling before the server stops
// redelivering a message.
func WithMaxDeliver(n int) JetStreamOption {
	return func(b *JetStreamBroker) { b.maxDeliver = n }
}

// WithDurable names the durable consumer for one queue. Queues not named
// share the default worker durable.
func WithDurable(queue, name string) JetStreamOption {
	return func(b *JetStreamBroker) { b.durables[queue] = name }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) JetStreamOption {
	return func(b *JetStreamBroker) { b.logger = logger }
}

// NewJetStreamBroker creates a broker over the given JetStream context.
// Streams are named "<prefix>_<QUEUE>"; the dead-letter stream is created
// eagerly so dead-lettering never fails on a missing stream.
func NewJetStreamBroker(ctx context.Context, js jetstream.JetStream, prefix string, opts ...JetStreamOption) (*JetStreamBroker, error) {
	b := &JetStreamBroker{
		js:           js,
		prefix:       prefix,
		lockDuration: 5 * time.Minute,
		maxDeliver:   10,
		durables:     make(map[string]string),
		logger:       slog.Default(),
		consumers:    make(map[string]jetstream.Consumer),
	}
	for _, opt := range opts {
		opt(b)
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.streamName("deadletter"),
		Subjects: []string{b.subject("deadletter")},
	})
	if err != nil {
		return nil, fmt.Errorf("create dead-letter stream: %w", err)
	}
	return b, nil
}

func (b *JetStreamBroker) streamName(queue string) string {
	return b.prefix + "_" + strings.ToUpper(strings.ReplaceAll(queue, "-", "_"))
}

func (b *JetStreamBroker) subject(queue string) string {
	return "docwriter.queue." + queue
}

func (b *JetStreamBroker) durableFor(queue string) string {
	if name, ok := b.durables[queue]; ok {
		return name
	}
	return defaultDurable
}

// EnsureQueue creates the stream and durable consumer for a queue.
func (b *JetStreamBroker) EnsureQueue(ctx context.Context, queue string) error {
	stream, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     b.streamName(queue),
		Subjects: []string{b.subject(queue)},
	})
	if err != nil {
		return fmt.Errorf("create stream for queue %s: %w", queue, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    b.durableFor(queue),
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    b.lockDuration,
		MaxDeliver: b.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer for queue %s: %w", queue, err)
	}

	b.mu.Lock()
	b.consumers[queue] = consumer
	b.mu.Unlock()
	return nil
}

func (b *JetStreamBroker) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	b.mu.Lock()
	c, ok := b.consumers[queue]
	b.mu.Unlock()
	if ok {
		return c, nil
	}
	if err := b.EnsureQueue(ctx, queue); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumers[queue], nil
}

// Enqueue publishes a message onto the queue's stream.
func (b *JetStreamBroker) Enqueue(ctx context.Context, queue string, data []byte) error {
	if _, err := b.js.Publish(ctx, b.subject(queue), data); err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	return nil
}

// Fetch leases the next message from the queue.
func (b *JetStreamBroker) Fetch(ctx context.Context, queue string, maxWait time.Duration) (Delivery, error) {
	consumer, err := b.consumer(ctx, queue)
	if err != nil {
		return nil, err
	}

	batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", queue, err)
	}

	for msg := range batch.Messages() {
		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		return &jsDelivery{broker: b, queue: queue, msg: msg, attempt: attempt}, nil
	}
	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", queue, err)
	}
	return nil, ErrNoMessages
}

type jsDelivery struct {
	broker  *JetStreamBroker
	queue   string
	msg     jetstream.Msg
	attempt int
}

func (d *jsDelivery) Data() []byte { return d.msg.Data() }

func (d *jsDelivery) Attempt() int { return d.attempt }

func (d *jsDelivery) Ack(context.Context) error {
	return d.msg.Ack()
}

func (d *jsDelivery) Abandon(context.Context) error {
	delay := Backoff(d.attempt)
	d.broker.logger.Debug("Abandoning message",
		"queue", d.queue,
		"attempt", d.attempt,
		"redeliver_in", delay)
	return d.msg.NakWithDelay(delay)
}

func (d *jsDelivery) DeadLetter(ctx context.Context, reason string) error {
	payload, err := json.Marshal(DeadLettered{
		Queue:  d.queue,
		Reason: reason,
		Data:   d.msg.Data(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope: %w", err)
	}
	if _, err := d.broker.js.Publish(ctx, d.broker.subject("deadletter"), payload); err != nil {
		return fmt.Errorf("publish to dead-letter queue: %w", err)
	}
	return d.msg.Term()
}

func (d *jsDelivery) Renew(context.Context) error {
	return d.msg.InProgress()
}
