package docjob

import "time"

// Phase is the lifecycle phase a status event reports.
type Phase string

// Status event phases.
const (
	PhaseEnqueued      Phase = "ENQUEUED"
	PhaseStart         Phase = "START"
	PhaseDone          Phase = "DONE"
	PhaseFailed        Phase = "FAILED"
	PhaseDeadLettered  Phase = "DEAD_LETTERED"
	PhaseIntakeReady   Phase = "INTAKE_READY"
	PhaseIntakeResumed Phase = "INTAKE_RESUMED"
	PhaseFinalizeDone  Phase = "FINALIZE_DONE"
)

// EventDetails carries the structured payload of a status event.
type EventDetails struct {
	DurationS       float64  `json:"duration_s,omitempty"`
	Tokens          int      `json:"tokens,omitempty"`
	Model           string   `json:"model,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Artifact        string   `json:"artifact,omitempty"`
	Artifacts       []string `json:"artifacts,omitempty"`
	Title           string   `json:"title,omitempty"`
	SectionID       string   `json:"section_id,omitempty"`
	CycleIndex      int      `json:"cycle_index,omitempty"`
	RequestedCycles int      `json:"requested_cycles,omitempty"`
	CyclesCompleted int      `json:"cycles_completed,omitempty"`
	CyclesRemaining int      `json:"cycles_remaining,omitempty"`
}

// StatusEvent is one event on the status topic and one timeline entry.
// Events are idempotent by (JobID, Stage, Phase, TS).
type StatusEvent struct {
	JobID   string       `json:"job_id"`
	OwnerID string       `json:"owner_id"`
	Stage   Stage        `json:"stage"`
	Phase   Phase        `json:"phase"`
	TS      time.Time    `json:"ts"`
	Message string       `json:"message,omitempty"`
	Details EventDetails `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Identity returns the deduplication key for this event.
func (e *StatusEvent) Identity() string {
	return e.JobID + "|" + string(e.Stage) + "|" + string(e.Phase) + "|" + e.TS.UTC().Format(time.RFC3339Nano)
}

// Terminal reports whether the event marks the end of the job.
func (e *StatusEvent) Terminal() bool {
	return e.Phase == PhaseFinalizeDone || e.Phase == PhaseDeadLettered
}
