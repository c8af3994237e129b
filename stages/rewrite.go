package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/docwriter/agents"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/store"
)

// Rewrite revises the flagged sections using the cycle's review notes
// and verifier findings as guidance, then kicks off the next review
// cycle. Each revision is stored both as a cycle-scoped artifact and as
// the new current draft.
func Rewrite(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}

	// Without an explicit section list the flagged set is recomputed
	// from the cycle's stored reports, so a resumed rewrite needs only
	// the stage and cycle.
	ids := parseSectionList(msg.Input("sections"))
	if len(ids) == 0 {
		if ids, err = flaggedForCycle(ctx, deps, paths, plan, msg.Cycle); err != nil {
			return nil, err
		}
	}

	guidance, err := collectGuidance(ctx, deps, paths, msg.Cycle)
	if err != nil {
		return nil, err
	}

	var stats agents.CallStats
	writer := agents.NewWriter(deps.LLM, deps.logger())
	summarizer := agents.NewSummarizer(deps.LLM, deps.logger())

	for _, id := range ids {
		sec := plan.Section(id)
		if sec == nil {
			return nil, Permanent(fmt.Errorf("section %q not in plan", id))
		}

		// Redelivery skip: the cycle artifact marks a finished revision.
		if ok, err := deps.Objects.Exists(ctx, paths.Rewrite(msg.Cycle, id)); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		current, err := deps.Objects.Get(ctx, paths.Draft(id))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotReady("draft of %s not present", id)
			}
			return nil, err
		}
		body := export.UnwrapSection(id, string(current))

		mem, _, err := deps.Status.GetMemory(ctx, msg.OwnerID, msg.JobID)
		if err != nil {
			return nil, err
		}

		revised, err := writer.RewriteSection(ctx, plan, sec, body, guidance[id], mem, &stats)
		if err != nil {
			return nil, err
		}

		summary, terms := summarizer.Summarize(ctx, id, revised, &stats)
		if err := updateMemory(ctx, deps, msg, id, summary, terms); err != nil {
			return nil, err
		}

		wrapped := []byte(export.WrapSection(id, revised))
		if err := deps.Objects.Put(ctx, paths.Draft(id), wrapped); err != nil {
			return nil, err
		}
		if err := deps.Objects.Put(ctx, paths.Rewrite(msg.Cycle, id), wrapped); err != nil {
			return nil, err
		}
	}

	return &Result{
		Details: docjob.EventDetails{
			SectionID:       sectionList(ids),
			CycleIndex:      msg.Cycle,
			CyclesCompleted: msg.Cycle,
			Tokens:          stats.Tokens,
			Model:           stats.Model,
			Notes:           fmt.Sprintf("%d sections revised", len(ids)),
		},
		Next: []Enqueue{{
			Queue: QueueFor(docjob.StageReview),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageReview,
				Cycle:   msg.Cycle + 1,
				TraceID: msg.TraceID,
			},
		}},
	}, nil
}

// flaggedForCycle rebuilds the flagged section set from the cycle's
// stored review and verify reports.
func flaggedForCycle(ctx context.Context, deps *Deps, paths store.JobPaths, plan *docjob.Plan, cycle int) ([]string, error) {
	var reviews []docjob.ReviewReport
	for _, flavor := range allFlavors {
		var report docjob.ReviewReport
		err := getJSON(ctx, deps.Objects, paths.Review(cycle, flavor), &report)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, report)
	}

	var verify docjob.VerifyReport
	if err := getJSON(ctx, deps.Objects, paths.VerifyReport(cycle), &verify); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	ids := docjob.DefaultRewritePolicy().FlaggedSections(plan, reviews, &verify)
	if len(ids) == 0 {
		return nil, Permanent(fmt.Errorf("no flagged sections for rewrite cycle %d", cycle))
	}
	return ids, nil
}

// collectGuidance gathers, per section, the review notes and verifier
// findings from the given cycle that should steer the revision.
func collectGuidance(ctx context.Context, deps *Deps, paths store.JobPaths, cycle int) (map[string][]string, error) {
	guidance := make(map[string][]string)

	for _, flavor := range allFlavors {
		var report docjob.ReviewReport
		err := getJSON(ctx, deps.Objects, paths.Review(cycle, flavor), &report)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, note := range report.Notes {
			guidance[note.SectionID] = append(guidance[note.SectionID],
				fmt.Sprintf("[%s/%s] %s", report.Flavor, note.Severity, note.Note))
		}
	}

	var verify docjob.VerifyReport
	err := getJSON(ctx, deps.Objects, paths.VerifyReport(cycle), &verify)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, f := range verify.Findings {
		guidance[f.SectionID] = append(guidance[f.SectionID],
			fmt.Sprintf("[verifier/%s] %s", f.Kind, f.Detail))
	}
	return guidance, nil
}
