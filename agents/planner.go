package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// planRepairRetries bounds the repair loop for invalid plans: the parse
// or validation error is fed back once, then the job dead-letters.
const planRepairRetries = 1

// Planner turns the intake context into a validated document plan.
type Planner struct {
	client llm.Client
	logger *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{client: client, logger: logger.With("agent", "planner")}
}

const plannerSystemPrompt = `You plan long-form technical documents.
Produce a section outline with dependencies, a glossary of key terms, a
global style contract, and any diagrams worth rendering.

Rules:
- Section ids are short kebab-case slugs, unique across the plan.
- depends_on lists ids of sections whose content this section builds on.
  The dependency graph must be acyclic.
- target_words sizes each section so the total matches the requested length.

Respond with ONLY a JSON object:
{
  "title": "...",
  "sections": [{"id": "intro", "title": "...", "goals": ["..."], "depends_on": [], "target_words": 800}],
  "glossary": {"term": "definition"},
  "global_style": {"tone": "...", "pov": "...", "formatting_rules": ["..."]},
  "diagram_specs": [{"name": "system-overview", "kind": "component", "section_id": "arch", "brief": "..."}]
}`

// BuildPlan asks the model for a plan and validates it, feeding parse and
// validation errors back for one repair attempt. The returned plan has
// answer overrides already applied.
func (p *Planner) BuildPlan(ctx context.Context, ictx *docjob.IntakeContext, stats *CallStats) (*docjob.Plan, error) {
	// Roughly 400 words per page of finished document.
	targetWords := ictx.Params.LengthPages * 400

	var sb strings.Builder
	fmt.Fprintf(&sb, "topic: %s\naudience: %s\ntarget length: %d pages (~%d words)\n",
		ictx.Params.Topic, ictx.Params.Audience, ictx.Params.LengthPages, targetWords)
	if len(ictx.Params.Constraints) > 0 {
		fmt.Fprintf(&sb, "constraints: %s\n", strings.Join(ictx.Params.Constraints, "; "))
	}
	if len(ictx.Answers) > 0 {
		sb.WriteString("\nIntake answers:\n")
		for id, answer := range ictx.Answers {
			fmt.Fprintf(&sb, "- %s: %s\n", id, answer)
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	var lastErr error
	for attempt := 0; attempt <= planRepairRetries; attempt++ {
		var plan docjob.Plan
		if err := completeJSON(ctx, p.client, model.RolePlanner, messages, 0, &plan, stats); err != nil {
			lastErr = err
		} else if err := plan.Validate(); err != nil {
			lastErr = err
		} else {
			applyAnswerOverrides(&plan, ictx)
			return &plan, nil
		}

		if attempt < planRepairRetries {
			p.logger.Warn("Plan invalid, asking for repair", "error", lastErr)
			messages = append(messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("The plan was rejected: %v\nProduce a corrected plan as ONLY a JSON object.", lastErr),
			})
		}
	}
	return nil, fmt.Errorf("%w: %v", docjob.ErrInvalidPlan, lastErr)
}

// applyAnswerOverrides folds intake answers and job parameters into the
// plan's style contract. Explicit user input beats whatever the model
// chose.
func applyAnswerOverrides(plan *docjob.Plan, ictx *docjob.IntakeContext) {
	if tone := ictx.Answers["tone"]; tone != "" {
		plan.GlobalStyle.Tone = tone
	} else if ictx.Params.Tone != "" {
		plan.GlobalStyle.Tone = ictx.Params.Tone
	}
	if pov := ictx.Answers["pov"]; pov != "" {
		plan.GlobalStyle.POV = pov
	}
	for _, c := range ictx.Params.Constraints {
		plan.GlobalStyle.FormattingRules = append(plan.GlobalStyle.FormattingRules, c)
	}
}
