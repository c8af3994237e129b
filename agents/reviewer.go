package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/flags"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// Reviewer is one review flavor.
type Reviewer interface {
	Flavor() docjob.ReviewFlavor
	Review(ctx context.Context, plan *docjob.Plan, drafts map[string]string, cycle int, stats *CallStats) (*docjob.ReviewReport, error)
}

// reviewerPrompts holds the system prompt per flavor. All flavors share
// the output contract; they differ only in what they look for.
var reviewerPrompts = map[docjob.ReviewFlavor]string{
	docjob.FlavorGeneral: `You review a technical document for correctness and completeness.
Flag sections that are wrong, thin, unclear, or missing promised content.`,

	docjob.FlavorStyle: `You review a technical document for style.
Flag sections that drift from the style contract: tone, point of view,
formatting rules, heading discipline.`,

	docjob.FlavorCohesion: `You review a technical document for cohesion.
Flag sections that contradict each other, redefine established terms, or
fail to connect to the sections they build on.`,

	docjob.FlavorSummary: `You review a technical document at the summary level.
Flag sections whose content does not deliver what their title and goals
promise, and sections that duplicate material covered elsewhere.`,
}

const reviewerOutputContract = `

Severity is "low", "medium", or "high". Only flag real problems.
Respond with ONLY a JSON object:
{"notes": [{"section_id": "...", "severity": "medium", "note": "..."}]}`

// llmReviewer implements all flavors via prompt selection.
type llmReviewer struct {
	client llm.Client
	flavor docjob.ReviewFlavor
}

// NewReviewer creates a reviewer for one flavor.
func NewReviewer(client llm.Client, flavor docjob.ReviewFlavor) Reviewer {
	return &llmReviewer{client: client, flavor: flavor}
}

func (r *llmReviewer) Flavor() docjob.ReviewFlavor { return r.flavor }

type reviewResult struct {
	Notes []docjob.ReviewNote `json:"notes"`
}

func (r *llmReviewer) Review(ctx context.Context, plan *docjob.Plan, drafts map[string]string, cycle int, stats *CallStats) (*docjob.ReviewReport, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n", plan.Title)
	if tone := plan.GlobalStyle.Tone; tone != "" {
		fmt.Fprintf(&sb, "Style contract tone: %s\n", tone)
	}
	for _, sec := range plan.Sections {
		fmt.Fprintf(&sb, "\n--- section %s: %s ---\n%s\n", sec.ID, sec.Title, export.UnwrapSection(sec.ID, drafts[sec.ID]))
	}

	var result reviewResult
	err := completeJSON(ctx, r.client, model.RoleReviewer, []llm.Message{
		{Role: "system", Content: reviewerPrompts[r.flavor] + reviewerOutputContract},
		{Role: "user", Content: sb.String()},
	}, maxFormatRetries, &result, stats)
	if err != nil {
		return nil, fmt.Errorf("%s review: %w", r.flavor, err)
	}

	// Notes against unknown sections are reviewer hallucination; drop them.
	valid := result.Notes[:0]
	for _, n := range result.Notes {
		if plan.Section(n.SectionID) != nil {
			valid = append(valid, n)
		}
	}

	return &docjob.ReviewReport{
		Flavor:       r.flavor,
		Cycle:        cycle,
		Notes:        valid,
		NeedsRewrite: len(valid) > 0,
	}, nil
}

// ActiveReviewers returns the reviewers to run this cycle: general
// always, the rest per feature flags.
func ActiveReviewers(client llm.Client, f flags.Flags, logger *slog.Logger) []Reviewer {
	reviewers := []Reviewer{NewReviewer(client, docjob.FlavorGeneral)}
	if f.ReviewStyle {
		reviewers = append(reviewers, NewReviewer(client, docjob.FlavorStyle))
	}
	if f.ReviewCohesion {
		reviewers = append(reviewers, NewReviewer(client, docjob.FlavorCohesion))
	}
	if f.ReviewSummary {
		reviewers = append(reviewers, NewReviewer(client, docjob.FlavorSummary))
	}
	if logger != nil {
		logger.Debug("Active reviewers", "count", len(reviewers))
	}
	return reviewers
}
