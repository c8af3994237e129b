package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker with the same lease, backoff, and
// dead-letter semantics as the JetStream implementation. It backs tests
// and local single-process runs.
type MemoryBroker struct {
	// LockDuration bounds a lease before the message becomes
	// redeliverable. Defaults to 5 minutes.
	LockDuration time.Duration

	// BackoffFn overrides the abandon backoff schedule. Tests set this
	// to a zero delay for instant redelivery. Defaults to Backoff.
	BackoffFn func(delivery int) time.Duration

	mu          sync.Mutex
	queues      map[string][]*memMsg
	deadLetters map[string][]DeadLettered
}

type memMsg struct {
	data       []byte
	deliveries int
	notBefore  time.Time
	leasedTo   time.Time
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		LockDuration: 5 * time.Minute,
		BackoffFn:    Backoff,
		queues:       make(map[string][]*memMsg),
		deadLetters:  make(map[string][]DeadLettered),
	}
}

// EnsureQueue creates the queue if absent.
func (b *MemoryBroker) EnsureQueue(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; !ok {
		b.queues[queue] = nil
	}
	return nil
}

// Enqueue appends a message.
func (b *MemoryBroker) Enqueue(_ context.Context, queue string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.queues[queue] = append(b.queues[queue], &memMsg{data: cp})
	return nil
}

// Fetch leases the next available message, polling until maxWait elapses.
func (b *MemoryBroker) Fetch(ctx context.Context, queue string, maxWait time.Duration) (Delivery, error) {
	deadline := time.Now().Add(maxWait)
	for {
		if d := b.tryLease(queue); d != nil {
			return d, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNoMessages
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (b *MemoryBroker) tryLease(queue string) *memDelivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for _, m := range b.queues[queue] {
		if m.notBefore.After(now) || m.leasedTo.After(now) {
			continue
		}
		m.deliveries++
		m.leasedTo = now.Add(b.LockDuration)
		return &memDelivery{broker: b, queue: queue, msg: m, attempt: m.deliveries}
	}
	return nil
}

// QueueLen returns messages still on the queue (leased or not).
func (b *MemoryBroker) QueueLen(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// DeadLetters returns the parked messages for a queue.
func (b *MemoryBroker) DeadLetters(queue string) []DeadLettered {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLettered, len(b.deadLetters[queue]))
	copy(out, b.deadLetters[queue])
	return out
}

func (b *MemoryBroker) remove(queue string, msg *memMsg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	for i, m := range q {
		if m == msg {
			b.queues[queue] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

type memDelivery struct {
	broker  *MemoryBroker
	queue   string
	msg     *memMsg
	attempt int
}

func (d *memDelivery) Data() []byte { return d.msg.data }

func (d *memDelivery) Attempt() int { return d.attempt }

func (d *memDelivery) Ack(context.Context) error {
	d.broker.remove(d.queue, d.msg)
	return nil
}

func (d *memDelivery) Abandon(context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.msg.leasedTo = time.Time{}
	d.msg.notBefore = time.Now().Add(d.broker.BackoffFn(d.attempt))
	return nil
}

func (d *memDelivery) DeadLetter(_ context.Context, reason string) error {
	d.broker.mu.Lock()
	d.broker.deadLetters[d.queue] = append(d.broker.deadLetters[d.queue], DeadLettered{
		Queue:  d.queue,
		Reason: reason,
		Data:   d.msg.data,
	})
	d.broker.mu.Unlock()
	d.broker.remove(d.queue, d.msg)
	return nil
}

func (d *memDelivery) Renew(context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.msg.leasedTo = time.Now().Add(d.broker.LockDuration)
	return nil
}
