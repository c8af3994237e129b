// Package broker provides the stage queue abstraction: durable queues with
// at-least-once delivery, per-message locks, abandon-with-backoff, and
// dead-lettering. The production implementation runs on JetStream; an
// in-memory implementation with the same semantics backs tests.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessages is returned by Fetch when no message became available
// within the wait window.
var ErrNoMessages = errors.New("no messages available")

// Broker is a durable queue fabric keyed by queue name.
type Broker interface {
	// EnsureQueue creates the queue if it does not exist. Idempotent.
	EnsureQueue(ctx context.Context, queue string) error

	// Enqueue appends a message to the queue.
	Enqueue(ctx context.Context, queue string, data []byte) error

	// Fetch leases the next available message, waiting up to maxWait.
	// Returns ErrNoMessages on timeout. The lease lasts the broker's
	// lock duration; the caller must Ack, Abandon, or DeadLetter it.
	Fetch(ctx context.Context, queue string, maxWait time.Duration) (Delivery, error)
}

// Delivery is one leased message.
type Delivery interface {
	// Data returns the message payload.
	Data() []byte

	// Attempt returns the 1-based delivery count.
	Attempt() int

	// Ack completes the message, removing it from the queue.
	Ack(ctx context.Context) error

	// Abandon releases the lease and schedules redelivery after a
	// backoff derived from the delivery count.
	Abandon(ctx context.Context) error

	// DeadLetter moves the message to the dead-letter queue with a
	// reason and completes the original.
	DeadLetter(ctx context.Context, reason string) error

	// Renew extends the lease for another lock duration.
	Renew(ctx context.Context) error
}

// DeadLettered wraps a message parked on the dead-letter queue.
type DeadLettered struct {
	Queue  string `json:"queue"`
	Reason string `json:"reason"`
	Data   []byte `json:"data"`
}

// Backoff schedule for abandoned messages.
const (
	backoffBase = 30 * time.Second
	backoffMax  = 10 * time.Minute
)

// Backoff returns the redelivery delay for the given 1-based delivery
// count: base doubling per delivery, capped.
func Backoff(delivery int) time.Duration {
	if delivery < 1 {
		delivery = 1
	}
	d := backoffBase
	for i := 1; i < delivery; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	if d > backoffMax {
		return backoffMax
	}
	return d
}
