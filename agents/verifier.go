package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// Verifier checks drafts against the facts their dependencies declared,
// and catches placeholder sections the writer stalled on.
type Verifier struct {
	client llm.Client
	logger *slog.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(client llm.Client, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{client: client, logger: logger.With("agent", "verifier")}
}

const verifierSystemPrompt = `You verify a technical document for internal consistency.
For each section you are given the facts its prerequisite sections
declared. Flag sections that contradict those facts: changed numbers,
renamed components, reversed decisions.

Respond with ONLY a JSON object:
{"findings": [{"section_id": "...", "detail": "..."}]}`

type verifyResult struct {
	Findings []struct {
		SectionID string `json:"section_id"`
		Detail    string `json:"detail"`
	} `json:"findings"`
}

// Verify produces the cycle's verification report. Placeholder detection
// is local and always runs; the contradiction check goes to the model.
func (v *Verifier) Verify(ctx context.Context, plan *docjob.Plan, drafts map[string]string, mem *docjob.Memory, cycle int, stats *CallStats) (*docjob.VerifyReport, error) {
	report := &docjob.VerifyReport{Cycle: cycle}

	for _, sec := range plan.Sections {
		if export.IsPlaceholder(export.UnwrapSection(sec.ID, drafts[sec.ID])) {
			report.Findings = append(report.Findings, docjob.VerifyFinding{
				SectionID: sec.ID,
				Kind:      "placeholder",
				Detail:    "section body is a placeholder or too short",
			})
		}
	}

	var sb strings.Builder
	for _, sec := range plan.Sections {
		if len(sec.DependsOn) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n--- section %s ---\nDeclared facts it must honor:\n", sec.ID)
		for depID, summary := range mem.SummariesFor(sec.DependsOn) {
			fmt.Fprintf(&sb, "- (%s) %s\n", depID, summary)
		}
		fmt.Fprintf(&sb, "Body:\n%s\n", export.UnwrapSection(sec.ID, drafts[sec.ID]))
	}

	if sb.Len() > 0 {
		var result verifyResult
		err := completeJSON(ctx, v.client, model.RoleVerifier, []llm.Message{
			{Role: "system", Content: verifierSystemPrompt},
			{Role: "user", Content: sb.String()},
		}, maxFormatRetries, &result, stats)
		if err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
		for _, f := range result.Findings {
			if plan.Section(f.SectionID) == nil {
				continue
			}
			report.Findings = append(report.Findings, docjob.VerifyFinding{
				SectionID: f.SectionID,
				Kind:      "contradiction",
				Detail:    f.Detail,
			})
		}
	}

	report.Passed = len(report.Findings) == 0
	return report, nil
}
