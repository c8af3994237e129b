// Package docjob defines the core data model for document generation jobs:
// job parameters, stage messages, plans, review reports, cycle state, and
// the status events the pipeline emits.
package docjob

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage identifies a pipeline stage.
type Stage string

// Pipeline stages in flow order.
const (
	StagePlanIntake    Stage = "plan-intake"
	StageIntakeResume  Stage = "intake-resume"
	StagePlan          Stage = "plan"
	StageWrite         Stage = "write"
	StageReview        Stage = "review"
	StageVerify        Stage = "verify"
	StageRewrite       Stage = "rewrite"
	StageDiagramPrep   Stage = "diagram-prep"
	StageDiagramRender Stage = "diagram-render"
	StageFinalize      Stage = "finalize"
)

// Stages lists every pipeline stage in flow order.
func Stages() []Stage {
	return []Stage{
		StagePlanIntake, StageIntakeResume, StagePlan, StageWrite,
		StageReview, StageVerify, StageRewrite,
		StageDiagramPrep, StageDiagramRender, StageFinalize,
	}
}

// ParseStage returns the Stage for s, or "" if unknown.
func ParseStage(s string) Stage {
	for _, st := range Stages() {
		if string(st) == s {
			return st
		}
	}
	return ""
}

// JobState is the coarse lifecycle state of a job.
type JobState string

// Job lifecycle states.
const (
	StateEnqueued        JobState = "enqueued"
	StateRunning         JobState = "running"
	StateAwaitingAnswers JobState = "awaiting_answers"
	StateCompleted       JobState = "completed"
	StateFailed          JobState = "failed"
)

// JobParams captures the user's request for a document.
type JobParams struct {
	Topic        string   `json:"topic"`
	Audience     string   `json:"audience,omitempty"`
	LengthPages  int      `json:"length_pages,omitempty"`
	ReviewCycles int      `json:"review_cycles,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	SourceURLs   []string `json:"source_urls,omitempty"`
}

// DefaultLengthPages is used when a job does not specify a length.
// LengthPages below MinLengthPages is raised to the floor.
const (
	DefaultLengthPages  = 80
	MinLengthPages      = 60
	DefaultReviewCycles = 2
	MaxReviewCycles     = 5
)

// Normalize applies defaults and floors to the parameters in place.
func (p *JobParams) Normalize() {
	if p.LengthPages <= 0 {
		p.LengthPages = DefaultLengthPages
	}
	if p.LengthPages < MinLengthPages {
		p.LengthPages = MinLengthPages
	}
	if p.ReviewCycles <= 0 {
		p.ReviewCycles = DefaultReviewCycles
	}
	if p.ReviewCycles > MaxReviewCycles {
		p.ReviewCycles = MaxReviewCycles
	}
}

// Validate checks that the parameters describe an admissible job.
func (p *JobParams) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

// Job is the durable record of a document generation job.
type Job struct {
	ID        string     `json:"job_id"`
	OwnerID   string     `json:"owner_id"`
	Params    JobParams  `json:"params"`
	State     JobState   `json:"state"`
	Stage     Stage      `json:"stage,omitempty"`
	Cycles    CycleState `json:"cycles"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Error     string     `json:"error,omitempty"`
}

// NewJob creates a job record with a fresh ID for the given owner.
func NewJob(ownerID string, params JobParams) *Job {
	params.Normalize()
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Params:    params,
		State:     StateEnqueued,
		Cycles:    CycleState{Requested: params.ReviewCycles},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CycleState tracks the review/rewrite loop for a job.
type CycleState struct {
	Requested int `json:"requested"`
	Completed int `json:"completed"`
}

// Remaining returns the cycles still available, never negative.
func (c CycleState) Remaining() int {
	r := c.Requested - c.Completed
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether the cycle budget has been spent.
func (c CycleState) Exhausted() bool {
	return c.Remaining() == 0
}
