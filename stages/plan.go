package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/docwriter/agents"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// Plan turns the intake context into a section plan and fans out write
// messages in dependency order. Batch size groups sections per message;
// the default of 1 gives one message per section.
func Plan(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	var ictx docjob.IntakeContext
	if err := getJSON(ctx, deps.Objects, paths.Context(), &ictx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotReady("intake context not written yet")
		}
		return nil, err
	}

	var stats agents.CallStats
	planner := agents.NewPlanner(deps.LLM, deps.logger())
	plan, err := planner.BuildPlan(ctx, &ictx, &stats)
	if err != nil {
		if errors.Is(err, docjob.ErrInvalidPlan) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	if err := putJSON(ctx, deps.Objects, paths.Plan(), plan); err != nil {
		return nil, err
	}

	order, err := plan.TopoOrder()
	if err != nil {
		// Validate already rejected cycles; a failure here means the
		// stored plan is inconsistent.
		return nil, Permanent(err)
	}

	var next []Enqueue
	batch := deps.batchSize()
	for i := 0; i < len(order); i += batch {
		end := min(i+batch, len(order))
		next = append(next, Enqueue{
			Queue: QueueFor(docjob.StageWrite),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageWrite,
				Inputs: map[string]string{
					"plan":     paths.Plan(),
					"sections": sectionList(order[i:end]),
				},
				TraceID: msg.TraceID,
			},
		})
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact: paths.Plan(),
			Tokens:   stats.Tokens,
			Model:    stats.Model,
			Notes:    fmt.Sprintf("%d sections, %d diagram specs", len(plan.Sections), len(plan.DiagramSpecs)),
			Title:    plan.Title,
		},
		Next: next,
	}, nil
}
