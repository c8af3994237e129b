// Package status implements the status event flow: workers publish
// lifecycle events to a durable topic, and the Recorder consumes them into
// the status store, timeline, and document index. Reads never touch the
// pipeline; they are served entirely from what the Recorder has written.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/docwriter/broker"
	"github.com/c360studio/docwriter/docjob"
)

// QueueName is the status topic's queue on the broker.
const QueueName = "status-events"

// Publisher emits status events. Publishing is fire-and-forget from the
// worker's perspective: a failed publish is logged, never fails the stage.
type Publisher struct {
	broker broker.Broker
	logger *slog.Logger
}

// NewPublisher creates a publisher over the given broker.
func NewPublisher(b broker.Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{broker: b, logger: logger}
}

// Publish emits one event. A zero TS is stamped with the current time.
func (p *Publisher) Publish(ctx context.Context, ev *docjob.StatusEvent) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal status event",
			"job_id", ev.JobID,
			"stage", ev.Stage,
			"phase", ev.Phase,
			"error", err)
		return
	}
	if err := p.broker.Enqueue(ctx, QueueName, data); err != nil {
		p.logger.Error("Failed to publish status event",
			"job_id", ev.JobID,
			"stage", ev.Stage,
			"phase", ev.Phase,
			"error", err)
	}
}

// StageStarted publishes the START event for a stage.
func (p *Publisher) StageStarted(ctx context.Context, msg *docjob.StageMessage) {
	p.Publish(ctx, &docjob.StatusEvent{
		JobID:   msg.JobID,
		OwnerID: msg.OwnerID,
		Stage:   msg.Stage,
		Phase:   docjob.PhaseStart,
		TraceID: msg.TraceID,
		Details: docjob.EventDetails{CycleIndex: msg.Cycle},
	})
}

// StageCompleted publishes the DONE event with the human-readable message.
func (p *Publisher) StageCompleted(ctx context.Context, msg *docjob.StageMessage, details docjob.EventDetails) {
	details.CycleIndex = msg.Cycle
	p.Publish(ctx, &docjob.StatusEvent{
		JobID:   msg.JobID,
		OwnerID: msg.OwnerID,
		Stage:   msg.Stage,
		Phase:   docjob.PhaseDone,
		Message: FormatStageMessage(msg.Stage, details),
		Details: details,
		TraceID: msg.TraceID,
	})
}

// StageFailed publishes a FAILED event. FAILED is informational: the
// message stays on the queue for retry unless it was dead-lettered.
func (p *Publisher) StageFailed(ctx context.Context, msg *docjob.StageMessage, cause error) {
	p.Publish(ctx, &docjob.StatusEvent{
		JobID:   msg.JobID,
		OwnerID: msg.OwnerID,
		Stage:   msg.Stage,
		Phase:   docjob.PhaseFailed,
		Message: fmt.Sprintf("stage failed: %s | attempt: %d | error: %v", StageLabel(msg.Stage), msg.Attempt, cause),
		Details: docjob.EventDetails{CycleIndex: msg.Cycle, Notes: cause.Error()},
		TraceID: msg.TraceID,
	})
}

// StageDeadLettered publishes the DEAD_LETTERED terminal event.
func (p *Publisher) StageDeadLettered(ctx context.Context, msg *docjob.StageMessage, reason string) {
	p.Publish(ctx, &docjob.StatusEvent{
		JobID:   msg.JobID,
		OwnerID: msg.OwnerID,
		Stage:   msg.Stage,
		Phase:   docjob.PhaseDeadLettered,
		Message: fmt.Sprintf("stage dead-lettered: %s | reason: %s", StageLabel(msg.Stage), reason),
		Details: docjob.EventDetails{CycleIndex: msg.Cycle, Notes: reason},
		TraceID: msg.TraceID,
	})
}
