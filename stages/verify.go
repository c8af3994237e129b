package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/docwriter/agents"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// allFlavors is the load order when collecting this cycle's reports.
// Disabled flavors simply have no stored report.
var allFlavors = []docjob.ReviewFlavor{
	docjob.FlavorGeneral,
	docjob.FlavorStyle,
	docjob.FlavorCohesion,
	docjob.FlavorSummary,
}

// Verify checks the drafts for contradictions and placeholders, then
// routes the job: flagged sections with cycle budget left go to rewrite,
// everything else moves on to diagram preparation. The verdict is taken
// from the message's cycle against the requested budget, never from the
// possibly-lagging status row.
func Verify(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}
	drafts, err := loadDrafts(ctx, deps, paths, plan)
	if err != nil {
		return nil, err
	}

	var reviews []docjob.ReviewReport
	for _, flavor := range allFlavors {
		var report docjob.ReviewReport
		err := getJSON(ctx, deps.Objects, paths.Review(msg.Cycle, flavor), &report)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, report)
	}
	if len(reviews) == 0 {
		// Review enqueues verify only after storing its reports.
		return nil, NotReady("no review reports for cycle %d yet", msg.Cycle)
	}

	mem, _, err := deps.Status.GetMemory(ctx, msg.OwnerID, msg.JobID)
	if err != nil {
		return nil, err
	}

	var stats agents.CallStats
	verifier := agents.NewVerifier(deps.LLM, deps.logger())
	report, err := verifier.Verify(ctx, plan, drafts, mem, msg.Cycle, &stats)
	if err != nil {
		return nil, err
	}
	if err := putJSON(ctx, deps.Objects, paths.VerifyReport(msg.Cycle), report); err != nil {
		return nil, err
	}

	job, err := deps.Status.GetJob(ctx, msg.OwnerID, msg.JobID)
	if err != nil {
		return nil, err
	}

	// A rewrite starts another review/verify pass, so it is only allowed
	// while passes remain in the budget: cycle N rewriting leads to pass
	// N+1, which must not exceed the requested count.
	flagged := docjob.DefaultRewritePolicy().FlaggedSections(plan, reviews, report)
	rewrite := len(flagged) > 0 && msg.Cycle < job.Cycles.Requested

	var next []Enqueue
	var notes string
	if rewrite {
		notes = fmt.Sprintf("%d sections flagged, rewriting (cycle %d of %d)",
			len(flagged), msg.Cycle, job.Cycles.Requested)
		next = append(next, Enqueue{
			Queue: QueueFor(docjob.StageRewrite),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageRewrite,
				Cycle:   msg.Cycle,
				Inputs:  map[string]string{"sections": sectionList(flagged)},
				TraceID: msg.TraceID,
			},
		})
	} else {
		if len(flagged) > 0 {
			notes = fmt.Sprintf("%d sections still flagged, cycle budget exhausted", len(flagged))
		} else {
			notes = "verification passed"
		}
		next = append(next, Enqueue{
			Queue: QueueFor(docjob.StageDiagramPrep),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageDiagramPrep,
				TraceID: msg.TraceID,
			},
		})
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact:        paths.VerifyReport(msg.Cycle),
			CycleIndex:      msg.Cycle,
			CyclesCompleted: msg.Cycle,
			RequestedCycles: job.Cycles.Requested,
			Tokens:          stats.Tokens,
			Model:           stats.Model,
			Notes:           notes,
		},
		Next: next,
	}, nil
}
