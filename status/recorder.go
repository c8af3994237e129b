package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// fetchMaxWait bounds each poll of the status queue.
const fetchMaxWait = 5 * time.Second

// Recorder is the single writer of job status: it consumes the status
// topic and projects events into the job row, timeline, and document
// index. Events are applied idempotently, so redeliveries are harmless.
type Recorder struct {
	broker broker.Broker
	store  store.StatusStore
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// NewRecorder creates a recorder over the given broker and status store.
func NewRecorder(b broker.Broker, s store.StatusStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		broker: b,
		store:  s,
		logger: logger.With("component", "status-recorder"),
	}
}

// Start begins consuming the status topic. Idempotent.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.broker.EnsureQueue(ctx, QueueName); err != nil {
		return fmt.Errorf("ensure status queue: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.consumeLoop(runCtx)
	r.logger.Info("Status recorder started")
	return nil
}

// Stop halts consumption and waits for the loop to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("Status recorder stopped",
		"processed", r.processed.Load(),
		"failed", r.failed.Load())
}

// Processed returns the number of events applied.
func (r *Recorder) Processed() int64 { return r.processed.Load() }

func (r *Recorder) consumeLoop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := r.broker.Fetch(ctx, QueueName, fetchMaxWait)
		if err != nil {
			if errors.Is(err, broker.ErrNoMessages) || errors.Is(err, context.Canceled) {
				continue
			}
			r.logger.Warn("Status fetch failed", "error", err)
			continue
		}
		r.handleDelivery(ctx, delivery)
	}
}

func (r *Recorder) handleDelivery(ctx context.Context, delivery broker.Delivery) {
	var ev docjob.StatusEvent
	if err := json.Unmarshal(delivery.Data(), &ev); err != nil {
		r.failed.Add(1)
		r.logger.Error("Unparsable status event, dead-lettering", "error", err)
		if dlErr := delivery.DeadLetter(ctx, fmt.Sprintf("unparsable status event: %v", err)); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}
		return
	}
	if ev.JobID == "" || ev.OwnerID == "" {
		r.failed.Add(1)
		if dlErr := delivery.DeadLetter(ctx, "status event missing job or owner id"); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}
		return
	}

	if err := r.apply(ctx, &ev); err != nil {
		// Store trouble is retryable; leave the event on the queue.
		r.failed.Add(1)
		r.logger.Warn("Failed to apply status event, will retry",
			"job_id", ev.JobID,
			"stage", ev.Stage,
			"phase", ev.Phase,
			"error", err)
		if nakErr := delivery.Abandon(ctx); nakErr != nil {
			r.logger.Error("Abandon failed", "error", nakErr)
		}
		return
	}

	r.processed.Add(1)
	if err := delivery.Ack(ctx); err != nil {
		r.logger.Warn("Ack failed after apply", "error", err)
	}
}

// apply projects one event into durable state. Timeline appends dedupe by
// event identity; row and index writes are last-writer-wins upserts, so
// applying the same event twice converges.
func (r *Recorder) apply(ctx context.Context, ev *docjob.StatusEvent) error {
	if err := r.store.AppendTimeline(ctx, ev); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}

	job, err := r.store.GetJob(ctx, ev.OwnerID, ev.JobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get job row: %w", err)
		}
		// Events can outrun admission when the producer crashed between
		// enqueue and row write. Synthesize a minimal row.
		job = &docjob.Job{ID: ev.JobID, OwnerID: ev.OwnerID, State: docjob.StateEnqueued, CreatedAt: ev.TS}
	}

	if !ev.TS.Before(job.UpdatedAt) {
		job.Stage = ev.Stage
		job.UpdatedAt = ev.TS
		if state, ok := stateForPhase(ev.Phase); ok {
			job.State = state
		}
		switch ev.Phase {
		case docjob.PhaseFailed, docjob.PhaseDeadLettered:
			job.Error = ev.Details.Notes
		case docjob.PhaseDone, docjob.PhaseFinalizeDone:
			// A retry that succeeds clears the error surfaced to the caller.
			job.Error = ""
		}
		if ev.Details.RequestedCycles > 0 {
			job.Cycles.Requested = ev.Details.RequestedCycles
		}
		if ev.Details.CyclesCompleted > 0 {
			job.Cycles.Completed = ev.Details.CyclesCompleted
		}
	}
	if err := r.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("put job row: %w", err)
	}

	entry, err := r.store.GetDocument(ctx, ev.OwnerID, ev.JobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get document entry: %w", err)
		}
		entry = &store.DocumentEntry{JobID: job.ID, OwnerID: job.OwnerID}
	}
	entry.State = job.State
	entry.UpdatedAt = job.UpdatedAt
	if ev.Details.Title != "" {
		entry.Title = ev.Details.Title
	}
	if len(ev.Details.Artifacts) > 0 {
		entry.Artifacts = ev.Details.Artifacts
	}
	return r.store.PutDocument(ctx, entry)
}

// stateForPhase maps event phases to job states. Phases without a state
// transition (DONE, FAILED) leave the state untouched.
func stateForPhase(phase docjob.Phase) (docjob.JobState, bool) {
	switch phase {
	case docjob.PhaseEnqueued:
		return docjob.StateEnqueued, true
	case docjob.PhaseStart, docjob.PhaseIntakeResumed:
		return docjob.StateRunning, true
	case docjob.PhaseIntakeReady:
		return docjob.StateAwaitingAnswers, true
	case docjob.PhaseFinalizeDone:
		return docjob.StateCompleted, true
	case docjob.PhaseDeadLettered:
		return docjob.StateFailed, true
	default:
		return "", false
	}
}
