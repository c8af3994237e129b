package status

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// drain processes queued status events synchronously through the recorder.
func drain(t *testing.T, r *Recorder, b *broker.MemoryBroker) {
	t.Helper()
	ctx := context.Background()
	for b.QueueLen(QueueName) > 0 {
		d, err := b.Fetch(ctx, QueueName, 50*time.Millisecond)
		require.NoError(t, err)
		r.handleDelivery(ctx, d)
	}
}

func TestRecorderAppliesLifecycle(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	s := store.NewMemoryStatusStore()
	rec := NewRecorder(b, s, nil)
	pub := NewPublisher(b, nil)

	job := docjob.NewJob("o1", docjob.JobParams{Topic: "caching"})
	require.NoError(t, s.PutJob(ctx, job))

	msg := &docjob.StageMessage{JobID: job.ID, OwnerID: "o1", Stage: docjob.StagePlan}
	pub.StageStarted(ctx, msg)
	pub.StageCompleted(ctx, msg, docjob.EventDetails{Artifact: "plan.json", DurationS: 1.5, Tokens: 900, Model: "m1"})
	drain(t, rec, b)

	got, err := s.GetJob(ctx, "o1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, docjob.StateRunning, got.State)
	assert.Equal(t, docjob.StagePlan, got.Stage)

	tl, err := s.Timeline(ctx, "o1", job.ID)
	require.NoError(t, err)
	require.Len(t, tl, 2)
	assert.Equal(t, docjob.PhaseStart, tl[0].Phase)
	assert.Equal(t, docjob.PhaseDone, tl[1].Phase)
	assert.Equal(t,
		"stage completed: Planning | stage document: plan.json | stage time: 1.5s | stage tokens: 900 | stage model: m1",
		tl[1].Message)
}

func TestRecorderIdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	s := store.NewMemoryStatusStore()
	rec := NewRecorder(b, s, nil)

	ev := docjob.StatusEvent{
		JobID: "j", OwnerID: "o", Stage: docjob.StageWrite,
		Phase: docjob.PhaseDone, TS: time.Now().UTC(),
	}
	data, err := json.Marshal(&ev)
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, QueueName, data))
	require.NoError(t, b.Enqueue(ctx, QueueName, data))
	drain(t, rec, b)

	tl, err := s.Timeline(ctx, "o", "j")
	require.NoError(t, err)
	assert.Len(t, tl, 1)
}

func TestRecorderDeadLettersUnparsableEvents(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	s := store.NewMemoryStatusStore()
	rec := NewRecorder(b, s, nil)

	require.NoError(t, b.Enqueue(ctx, QueueName, []byte("{not json")))
	require.NoError(t, b.Enqueue(ctx, QueueName, []byte(`{"stage":"plan"}`))) // missing ids
	drain(t, rec, b)

	assert.Len(t, b.DeadLetters(QueueName), 2)
	assert.Equal(t, int64(0), rec.Processed())
}

func TestRecorderTerminalPhases(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	s := store.NewMemoryStatusStore()
	rec := NewRecorder(b, s, nil)
	pub := NewPublisher(b, nil)

	pub.Publish(ctx, &docjob.StatusEvent{
		JobID: "j1", OwnerID: "o", Stage: docjob.StageFinalize, Phase: docjob.PhaseFinalizeDone,
	})
	pub.StageDeadLettered(ctx, &docjob.StageMessage{JobID: "j2", OwnerID: "o", Stage: docjob.StagePlan}, "invalid plan")
	drain(t, rec, b)

	done, err := s.GetJob(ctx, "o", "j1")
	require.NoError(t, err)
	assert.Equal(t, docjob.StateCompleted, done.State)

	failed, err := s.GetJob(ctx, "o", "j2")
	require.NoError(t, err)
	assert.Equal(t, docjob.StateFailed, failed.State)
	assert.Equal(t, "invalid plan", failed.Error)

	docs, err := s.ListDocuments(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRecorderClearsErrorAfterRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	s := store.NewMemoryStatusStore()
	rec := NewRecorder(b, s, nil)
	pub := NewPublisher(b, nil)

	msg := &docjob.StageMessage{JobID: "j", OwnerID: "o", Stage: docjob.StageWrite, Attempt: 1}
	pub.StageFailed(ctx, msg, assert.AnError)
	drain(t, rec, b)

	job, err := s.GetJob(ctx, "o", "j")
	require.NoError(t, err)
	assert.NotEmpty(t, job.Error)

	pub.StageCompleted(ctx, msg, docjob.EventDetails{})
	drain(t, rec, b)

	job, err = s.GetJob(ctx, "o", "j")
	require.NoError(t, err)
	assert.Empty(t, job.Error)
}

func TestFormatStageMessageOmitsEmptyFields(t *testing.T) {
	msg := FormatStageMessage(docjob.StageReview, docjob.EventDetails{DurationS: 2})
	assert.Equal(t, "stage completed: Review | stage time: 2.0s", msg)
}
