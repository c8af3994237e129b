package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantRedelivery(b *MemoryBroker) {
	b.BackoffFn = func(int) time.Duration { return 0 }
}

func TestMemoryBrokerAckRemoves(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	require.NoError(t, b.Enqueue(ctx, "plan", []byte("m1")))

	d, err := b.Fetch(ctx, "plan", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("m1"), d.Data())
	assert.Equal(t, 1, d.Attempt())

	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, 0, b.QueueLen("plan"))

	_, err = b.Fetch(ctx, "plan", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestMemoryBrokerAbandonRedeliversWithIncrementedAttempt(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	instantRedelivery(b)

	require.NoError(t, b.Enqueue(ctx, "write", []byte("m1")))

	d1, err := b.Fetch(ctx, "write", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, d1.Abandon(ctx))

	d2, err := b.Fetch(ctx, "write", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, d2.Attempt())
	assert.Equal(t, []byte("m1"), d2.Data())
}

func TestMemoryBrokerLeaseBlocksConcurrentFetch(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	require.NoError(t, b.Enqueue(ctx, "review", []byte("m1")))

	_, err := b.Fetch(ctx, "review", 100*time.Millisecond)
	require.NoError(t, err)

	// Message is leased; a second fetch sees nothing.
	_, err = b.Fetch(ctx, "review", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestMemoryBrokerDeadLetter(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	require.NoError(t, b.Enqueue(ctx, "verify", []byte("bad")))

	d, err := b.Fetch(ctx, "verify", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, d.DeadLetter(ctx, "unparsable payload"))

	assert.Equal(t, 0, b.QueueLen("verify"))
	parked := b.DeadLetters("verify")
	require.Len(t, parked, 1)
	assert.Equal(t, "unparsable payload", parked[0].Reason)
	assert.Equal(t, []byte("bad"), parked[0].Data)
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
	assert.Equal(t, 2*time.Minute, Backoff(3))
	assert.Equal(t, 8*time.Minute, Backoff(5))
	assert.Equal(t, 10*time.Minute, Backoff(6))
	assert.Equal(t, 10*time.Minute, Backoff(50))
	assert.Equal(t, 30*time.Second, Backoff(0)) // clamped to first delivery
}
