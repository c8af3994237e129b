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

// memoryRetries bounds the CAS loop on the shared job memory. Contention
// comes from sibling write workers; a handful of retries is plenty, and
// past that the message is abandoned and redelivered.
const memoryRetries = 5

// Write drafts the sections named in the message. Each section's
// dependencies must already have drafts; if any is missing the message
// is abandoned and retried after backoff. The worker that stores the
// last missing draft wins the review kickoff.
func Write(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}

	// A message without an explicit section list covers every section;
	// resume-after-failure uses this to pick up wherever drafting stopped.
	ids := parseSectionList(msg.Input("sections"))
	if len(ids) == 0 {
		if ids, err = plan.TopoOrder(); err != nil {
			return nil, Permanent(err)
		}
	}
	sections := make([]*docjob.Section, 0, len(ids))
	for _, id := range ids {
		sec := plan.Section(id)
		if sec == nil {
			return nil, Permanent(fmt.Errorf("section %q not in plan", id))
		}
		sections = append(sections, sec)
	}

	// Dependency gate. Checked before any model call so a not-ready
	// message costs nothing but the fetch.
	for _, sec := range sections {
		for _, dep := range sec.DependsOn {
			ok, err := deps.Objects.Exists(ctx, paths.Draft(dep))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, NotReady("section %s waits on draft of %s", sec.ID, dep)
			}
		}
	}

	var stats agents.CallStats
	writer := agents.NewWriter(deps.LLM, deps.logger())
	summarizer := agents.NewSummarizer(deps.LLM, deps.logger())

	for _, sec := range sections {
		// Skip sections already drafted; redeliveries land here.
		if ok, err := deps.Objects.Exists(ctx, paths.Draft(sec.ID)); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		mem, _, err := deps.Status.GetMemory(ctx, msg.OwnerID, msg.JobID)
		if err != nil {
			return nil, err
		}

		body, err := writer.WriteSection(ctx, plan, sec, mem, &stats)
		if err != nil {
			return nil, err
		}

		summary, terms := summarizer.Summarize(ctx, sec.ID, body, &stats)
		if err := updateMemory(ctx, deps, msg, sec.ID, summary, terms); err != nil {
			return nil, err
		}

		// Draft is stored after the memory update so that a crash between
		// the two leaves the dependency gate closed, not the memory stale.
		if err := deps.Objects.Put(ctx, paths.Draft(sec.ID), []byte(export.WrapSection(sec.ID, body))); err != nil {
			return nil, err
		}
	}

	done, err := allDraftsPresent(ctx, deps, paths, plan)
	if err != nil {
		return nil, err
	}

	var next []Enqueue
	if done {
		n, err := deps.Status.Increment(ctx, paths.ReviewKickoffCounter())
		if err != nil {
			return nil, err
		}
		if n == 1 {
			next = append(next, Enqueue{
				Queue: QueueFor(docjob.StageReview),
				Msg: docjob.StageMessage{
					JobID:   msg.JobID,
					OwnerID: msg.OwnerID,
					Stage:   docjob.StageReview,
					Cycle:   1,
					TraceID: msg.TraceID,
				},
			})
		}
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact:  paths.Draft(sections[len(sections)-1].ID),
			SectionID: sectionList(ids),
			Tokens:    stats.Tokens,
			Model:     stats.Model,
		},
		Next: next,
	}, nil
}

// updateMemory folds a section summary and its glossary terms into the
// shared job memory via a compare-and-set loop. Section summaries are
// last-writer-wins per section; glossary terms are first-writer-wins.
func updateMemory(ctx context.Context, deps *Deps, msg *docjob.StageMessage, sectionID, summary string, terms map[string]string) error {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)
	for attempt := 0; attempt < memoryRetries; attempt++ {
		mem, rev, err := deps.Status.GetMemory(ctx, msg.OwnerID, msg.JobID)
		if err != nil {
			return err
		}
		mem.SetSummary(sectionID, summary)
		mem.MergeGlossary(terms)

		if _, err := deps.Status.PutMemory(ctx, msg.OwnerID, msg.JobID, mem, rev); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}

		// Best-effort artifact mirror for inspection; the KV copy is
		// authoritative.
		if err := putJSON(ctx, deps.Objects, paths.Memory(), mem); err != nil {
			deps.logger().Warn("Memory artifact mirror failed",
				"job_id", msg.JobID, "error", err)
		}
		return nil
	}
	return fmt.Errorf("memory update for section %s lost %d CAS races", sectionID, memoryRetries)
}

func allDraftsPresent(ctx context.Context, deps *Deps, paths store.JobPaths, plan *docjob.Plan) (bool, error) {
	for _, sec := range plan.Sections {
		ok, err := deps.Objects.Exists(ctx, paths.Draft(sec.ID))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
