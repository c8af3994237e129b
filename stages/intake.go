package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/c360studio/docwriter/agents"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// PlanIntake proposes the intake questionnaire and parks the job until
// answers arrive. It enqueues nothing: intake-resume is triggered by the
// answer submission.
func PlanIntake(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	job, err := deps.Status.GetJob(ctx, msg.OwnerID, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Admission writes the row before enqueueing; a missing row
			// is a short race, not a lost job.
			return nil, NotReady("job row not written yet")
		}
		return nil, err
	}

	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)
	var stats agents.CallStats

	interviewer := agents.NewInterviewer(deps.LLM, deps.logger())
	questions, usedFallback := interviewer.ProposeQuestions(ctx, job.Params, &stats)

	if err := putJSON(ctx, deps.Objects, paths.Questions(), questions); err != nil {
		return nil, err
	}

	samples := make(map[string]string, len(questions))
	for _, q := range questions {
		if q.Sample != "" {
			samples[q.ID] = q.Sample
		}
	}
	if err := putJSON(ctx, deps.Objects, paths.SampleAnswers(), samples); err != nil {
		return nil, err
	}

	// Context snapshot without answers; intake-resume rewrites it once
	// answers arrive. Deterministic: parameters only, no timestamps.
	if err := putJSON(ctx, deps.Objects, paths.Context(), &docjob.IntakeContext{Params: job.Params}); err != nil {
		return nil, err
	}

	notes := fmt.Sprintf("%d questions", len(questions))
	if usedFallback {
		notes += " (default questionnaire)"
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact:        paths.Questions(),
			Tokens:          stats.Tokens,
			Model:           stats.Model,
			Notes:           notes,
			RequestedCycles: job.Cycles.Requested,
		},
		Events: []docjob.StatusEvent{{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   msg.Stage,
			Phase:   docjob.PhaseIntakeReady,
			Message: fmt.Sprintf("intake ready: %d questions awaiting answers", len(questions)),
			TraceID: msg.TraceID,
		}},
	}, nil
}

// IntakeResume merges the submitted answers into the job context and
// starts planning. Idempotent: same answers, same context artifact.
func IntakeResume(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	job, err := deps.Status.GetJob(ctx, msg.OwnerID, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotReady("job row not written yet")
		}
		return nil, err
	}

	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	var answers map[string]string
	if err := getJSON(ctx, deps.Objects, paths.Answers(), &answers); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Submission writes answers before enqueueing this message.
			return nil, NotReady("answers not written yet")
		}
		return nil, err
	}

	ictx := &docjob.IntakeContext{Params: job.Params, Answers: answers}
	if err := putJSON(ctx, deps.Objects, paths.Context(), ictx); err != nil {
		return nil, err
	}

	notes := fmt.Sprintf("%d answers", len(answers))
	if unknown := unknownAnswerKeys(ctx, deps, paths, answers); len(unknown) > 0 {
		// Unknown keys flow into the context anyway; the planner may still
		// use them. They are only worth a trace.
		deps.logger().Warn("Answers contain keys not in the questionnaire",
			"job_id", msg.JobID, "keys", unknown)
		notes += fmt.Sprintf(", %d unknown keys", len(unknown))
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact: paths.Context(),
			Notes:    notes,
		},
		Events: []docjob.StatusEvent{{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   msg.Stage,
			Phase:   docjob.PhaseIntakeResumed,
			Message: "intake resumed: answers received",
			TraceID: msg.TraceID,
		}},
		Next: []Enqueue{{
			Queue: QueueFor(docjob.StagePlan),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StagePlan,
				Inputs:  map[string]string{"context": paths.Context()},
				TraceID: msg.TraceID,
			},
		}},
	}, nil
}

func unknownAnswerKeys(ctx context.Context, deps *Deps, paths store.JobPaths, answers map[string]string) []string {
	var questions []docjob.Question
	if err := getJSON(ctx, deps.Objects, paths.Questions(), &questions); err != nil {
		return nil
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	var unknown []string
	for id := range answers {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}
