// Package worker runs the stage consumers: it leases messages from the
// stage queues, dispatches them to the stage handlers, and owns retry
// classification, lease renewal, status events, and metrics.
package worker

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
	"github.com/c360studio/docwriter/metrics"
	"github.com/c360studio/docwriter/stages"
	"github.com/c360studio/docwriter/status"
	"github.com/c360studio/docwriter/store"
)

// fetchMaxWait bounds each queue poll.
const fetchMaxWait = 5 * time.Second

// Runner consumes one stage's queue.
type Runner struct {
	stage     docjob.Stage
	handler   stages.Handler
	broker    broker.Broker
	deps      *stages.Deps
	publisher *status.Publisher
	logger    *slog.Logger

	lockDuration time.Duration
	maxDeliver   int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLockDuration sets the message lock duration the runner renews
// against. Must match the broker's.
func WithLockDuration(d time.Duration) RunnerOption {
	return func(r *Runner) { r.lockDuration = d }
}

// WithMaxDeliver sets the delivery cap after which transient failures
// dead-letter instead of retrying.
func WithMaxDeliver(n int) RunnerOption {
	return func(r *Runner) { r.maxDeliver = n }
}

// NewRunner creates a runner for one stage.
func NewRunner(stage docjob.Stage, handler stages.Handler, b broker.Broker, deps *stages.Deps, publisher *status.Publisher, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		stage:        stage,
		handler:      handler,
		broker:       b,
		deps:         deps,
		publisher:    publisher,
		logger:       logger.With("component", "worker", "stage", stage),
		lockDuration: 5 * time.Minute,
		maxDeliver:   10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins consuming the stage queue. Idempotent.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.broker.EnsureQueue(ctx, stages.QueueFor(r.stage)); err != nil {
		return fmt.Errorf("ensure queue %s: %w", r.stage, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.consumeLoop(runCtx)
	r.logger.Info("Stage worker started")
	return nil
}

// Stop halts consumption and waits for the in-flight message to finish.
func (r *Runner) Stop() {
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
	r.logger.Info("Stage worker stopped",
		"processed", r.processed.Load(),
		"failed", r.failed.Load())
}

// Processed returns the number of messages completed.
func (r *Runner) Processed() int64 { return r.processed.Load() }

func (r *Runner) consumeLoop(ctx context.Context) {
	defer close(r.done)
	queue := stages.QueueFor(r.stage)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := r.broker.Fetch(ctx, queue, fetchMaxWait)
		if err != nil {
			if errors.Is(err, broker.ErrNoMessages) || errors.Is(err, context.Canceled) {
				continue
			}
			r.logger.Warn("Fetch failed", "error", err)
			continue
		}
		r.handleDelivery(ctx, delivery)
	}
}

func (r *Runner) handleDelivery(ctx context.Context, delivery broker.Delivery) {
	var msg docjob.StageMessage
	if err := json.Unmarshal(delivery.Data(), &msg); err != nil {
		r.failed.Add(1)
		metrics.DeadLettered.WithLabelValues(string(r.stage)).Inc()
		r.logger.Error("Unparsable stage message, dead-lettering", "error", err)
		if dlErr := delivery.DeadLetter(ctx, fmt.Sprintf("unparsable message: %v", err)); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}
		return
	}
	if err := msg.Validate(); err != nil {
		r.failed.Add(1)
		metrics.DeadLettered.WithLabelValues(string(r.stage)).Inc()
		r.logger.Error("Invalid stage message, dead-lettering",
			"job_id", msg.JobID, "error", err)
		if msg.JobID != "" && msg.OwnerID != "" {
			r.publisher.StageDeadLettered(ctx, &msg, fmt.Sprintf("invalid message: %v", err))
		}
		if dlErr := delivery.DeadLetter(ctx, fmt.Sprintf("invalid message: %v", err)); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}
		return
	}
	msg.Attempt = delivery.Attempt()

	r.publisher.StageStarted(ctx, &msg)

	// Keep the lease alive while the handler works; model calls can
	// outlast the lock duration.
	renewCtx, stopRenew := context.WithCancel(ctx)
	go r.renewLoop(renewCtx, delivery)

	start := time.Now()
	res, err := r.handler(ctx, r.deps, &msg)
	stopRenew()
	elapsed := time.Since(start)

	if err != nil {
		r.dispose(ctx, delivery, &msg, err)
		return
	}

	// Follow-ups are enqueued before the ack: a crash in between causes
	// a redelivery, which the idempotent handlers absorb, never a lost
	// continuation.
	for _, e := range res.Next {
		data, err := json.Marshal(&e.Msg)
		if err != nil {
			r.dispose(ctx, delivery, &msg, stages.Permanent(fmt.Errorf("marshal follow-up: %w", err)))
			return
		}
		if err := r.broker.Enqueue(ctx, e.Queue, data); err != nil {
			r.dispose(ctx, delivery, &msg, fmt.Errorf("enqueue %s: %w", e.Queue, err))
			return
		}
	}

	details := res.Details
	details.DurationS = elapsed.Seconds()
	r.writeMetricsBlob(ctx, &msg, &details)

	for i := range res.Events {
		r.publisher.Publish(ctx, &res.Events[i])
	}
	r.publisher.StageCompleted(ctx, &msg, details)

	metrics.StageProcessed.WithLabelValues(string(r.stage)).Inc()
	metrics.StageDuration.WithLabelValues(string(r.stage)).Observe(elapsed.Seconds())
	if details.Tokens > 0 {
		metrics.TokensUsed.WithLabelValues(string(r.stage)).Add(float64(details.Tokens))
	}

	r.processed.Add(1)
	if err := delivery.Ack(ctx); err != nil {
		r.logger.Warn("Ack failed after completion", "job_id", msg.JobID, "error", err)
	}
}

// dispose routes a handler failure: not-ready waits quietly, permanent
// failures dead-letter, and transient failures retry until the delivery
// cap is reached.
func (r *Runner) dispose(ctx context.Context, delivery broker.Delivery, msg *docjob.StageMessage, err error) {
	switch {
	case stages.IsNotReady(err):
		// A dependency wait still consumes deliveries; at the cap the
		// broker would stop redelivering, so dead-letter instead of
		// letting the message vanish silently.
		if msg.Attempt >= r.maxDeliver {
			r.failed.Add(1)
			metrics.StageFailed.WithLabelValues(string(r.stage), metrics.DispositionDeadLetter).Inc()
			metrics.DeadLettered.WithLabelValues(string(r.stage)).Inc()
			r.logger.Error("Dependency never materialized, dead-lettering",
				"job_id", msg.JobID, "attempt", msg.Attempt, "reason", err)
			r.publisher.StageFailed(ctx, msg, err)
			r.publisher.StageDeadLettered(ctx, msg,
				fmt.Sprintf("still waiting after %d deliveries: %v", msg.Attempt, err))
			if dlErr := delivery.DeadLetter(ctx, err.Error()); dlErr != nil {
				r.logger.Error("Dead-letter failed", "error", dlErr)
			}
			return
		}
		metrics.StageFailed.WithLabelValues(string(r.stage), metrics.DispositionNotReady).Inc()
		r.logger.Debug("Stage not ready, backing off",
			"job_id", msg.JobID, "attempt", msg.Attempt, "reason", err)
		if nakErr := delivery.Abandon(ctx); nakErr != nil {
			r.logger.Error("Abandon failed", "error", nakErr)
		}

	case stages.IsPermanent(err):
		r.failed.Add(1)
		metrics.StageFailed.WithLabelValues(string(r.stage), metrics.DispositionDeadLetter).Inc()
		metrics.DeadLettered.WithLabelValues(string(r.stage)).Inc()
		r.logger.Error("Stage failed permanently, dead-lettering",
			"job_id", msg.JobID, "attempt", msg.Attempt, "error", err)
		r.publisher.StageFailed(ctx, msg, err)
		r.publisher.StageDeadLettered(ctx, msg, err.Error())
		if dlErr := delivery.DeadLetter(ctx, err.Error()); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}

	case msg.Attempt >= r.maxDeliver:
		r.failed.Add(1)
		metrics.StageFailed.WithLabelValues(string(r.stage), metrics.DispositionDeadLetter).Inc()
		metrics.DeadLettered.WithLabelValues(string(r.stage)).Inc()
		r.logger.Error("Retry budget exhausted, dead-lettering",
			"job_id", msg.JobID, "attempt", msg.Attempt, "error", err)
		r.publisher.StageFailed(ctx, msg, err)
		r.publisher.StageDeadLettered(ctx, msg,
			fmt.Sprintf("failed after %d deliveries: %v", msg.Attempt, err))
		if dlErr := delivery.DeadLetter(ctx, err.Error()); dlErr != nil {
			r.logger.Error("Dead-letter failed", "error", dlErr)
		}

	default:
		r.failed.Add(1)
		metrics.StageFailed.WithLabelValues(string(r.stage), metrics.DispositionRetry).Inc()
		r.logger.Warn("Stage failed, will retry",
			"job_id", msg.JobID, "attempt", msg.Attempt, "error", err)
		r.publisher.StageFailed(ctx, msg, err)
		if nakErr := delivery.Abandon(ctx); nakErr != nil {
			r.logger.Error("Abandon failed", "error", nakErr)
		}
	}
}

func (r *Runner) renewLoop(ctx context.Context, delivery broker.Delivery) {
	ticker := time.NewTicker(r.lockDuration / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := delivery.Renew(ctx); err != nil {
				r.logger.Warn("Lease renewal failed", "error", err)
			}
		}
	}
}

// writeMetricsBlob stores the per-stage accounting artifact. Best
// effort: a failed write is logged, never fails the stage.
func (r *Runner) writeMetricsBlob(ctx context.Context, msg *docjob.StageMessage, details *docjob.EventDetails) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)
	blob := map[string]any{
		"job_id":     msg.JobID,
		"stage":      msg.Stage,
		"cycle":      msg.Cycle,
		"attempt":    msg.Attempt,
		"duration_s": details.DurationS,
		"tokens":     details.Tokens,
		"model":      details.Model,
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		r.logger.Warn("Metrics blob marshal failed", "job_id", msg.JobID, "error", err)
		return
	}
	if err := r.deps.Objects.Put(ctx, paths.Metrics(msg.Stage, msg.Cycle), data); err != nil {
		r.logger.Warn("Metrics blob write failed", "job_id", msg.JobID, "error", err)
	}
}
