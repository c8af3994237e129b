package stages

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/docwriter/agents"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/store"
)

// Review runs every enabled review flavor over the full draft set and
// stores one report per flavor, then hands off to verification. Flavors
// run concurrently; one flavor failing fails the whole message so a
// redelivery re-runs the cycle (already-stored reports are overwritten
// with identical keys).
func Review(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}
	drafts, err := loadDrafts(ctx, deps, paths, plan)
	if err != nil {
		return nil, err
	}

	reviewers := agents.ActiveReviewers(deps.LLM, deps.flags(), deps.logger())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		stats    agents.CallStats
		reports  = make(map[docjob.ReviewFlavor]*docjob.ReviewReport, len(reviewers))
		firstErr error
	)
	for _, rv := range reviewers {
		wg.Add(1)
		go func(rv agents.Reviewer) {
			defer wg.Done()
			var s agents.CallStats
			report, err := rv.Review(ctx, plan, drafts, msg.Cycle, &s)
			mu.Lock()
			defer mu.Unlock()
			stats.Tokens += s.Tokens
			if s.Model != "" {
				stats.Model = s.Model
			}
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s review: %w", rv.Flavor(), err)
				}
				return
			}
			reports[rv.Flavor()] = report
		}(rv)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	noteCount := 0
	for flavor, report := range reports {
		if err := putJSON(ctx, deps.Objects, paths.Review(msg.Cycle, flavor), report); err != nil {
			return nil, err
		}
		noteCount += len(report.Notes)
	}

	return &Result{
		Details: docjob.EventDetails{
			CycleIndex: msg.Cycle,
			Tokens:     stats.Tokens,
			Model:      stats.Model,
			Notes:      fmt.Sprintf("%d flavors, %d notes", len(reports), noteCount),
		},
		Next: []Enqueue{{
			Queue: QueueFor(docjob.StageVerify),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageVerify,
				Cycle:   msg.Cycle,
				TraceID: msg.TraceID,
			},
		}},
	}, nil
}
