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

// Writer drafts individual sections.
type Writer struct {
	client llm.Client
	logger *slog.Logger
}

// NewWriter creates a writer.
func NewWriter(client llm.Client, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{client: client, logger: logger.With("agent", "writer")}
}

const writerSystemPrompt = `You write one section of a long-form technical document.
Write complete, substantive markdown prose for the section you are given.
Honor the style contract and stay consistent with the facts already
declared by earlier sections. Use ### headings for subsections. Include
PlantUML diagrams in ` + "```plantuml" + ` fences where a diagram genuinely
helps. Write the section body only: no document title, no section heading,
no commentary about the task.`

// WriteSection drafts a section given the plan context, the summaries of
// its dependencies, and the shared memory snapshot. Returns raw markdown
// without section markers.
func (w *Writer) WriteSection(ctx context.Context, plan *docjob.Plan, section *docjob.Section, mem *docjob.Memory, stats *CallStats) (string, error) {
	prompt := buildSectionPrompt(plan, section, mem, "")

	resp, err := w.client.Complete(ctx, llm.Request{
		Role: model.RoleWriter,
		Messages: []llm.Message{
			{Role: "system", Content: writerSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("write section %s: %w", section.ID, err)
	}
	stats.Add(resp)

	body := strings.TrimSpace(resp.Content)
	if body == "" {
		return "", llm.NewTransientError(fmt.Errorf("writer returned empty draft for section %s", section.ID))
	}
	return body, nil
}

const rewriterSystemPrompt = `You revise one section of a long-form technical document.
Rewrite the section to address every review note while preserving what
already works. Keep the established terminology and style contract. Return
the complete revised section body in markdown: no commentary, no diff.`

// RewriteSection revises a section against review guidance. Returns the
// full replacement body.
func (w *Writer) RewriteSection(ctx context.Context, plan *docjob.Plan, section *docjob.Section, currentBody string, guidance []string, mem *docjob.Memory, stats *CallStats) (string, error) {
	prompt := buildSectionPrompt(plan, section, mem, currentBody) +
		"\n\nReview notes to address:\n- " + strings.Join(guidance, "\n- ")

	resp, err := w.client.Complete(ctx, llm.Request{
		Role: model.RoleWriter,
		Messages: []llm.Message{
			{Role: "system", Content: rewriterSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("rewrite section %s: %w", section.ID, err)
	}
	stats.Add(resp)

	body := strings.TrimSpace(resp.Content)
	if body == "" {
		return "", llm.NewTransientError(fmt.Errorf("rewriter returned empty body for section %s", section.ID))
	}
	return body, nil
}

func buildSectionPrompt(plan *docjob.Plan, section *docjob.Section, mem *docjob.Memory, currentBody string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\nSection: %s (%s)\n", plan.Title, section.Title, section.ID)
	if len(section.Goals) > 0 {
		fmt.Fprintf(&sb, "Goals:\n- %s\n", strings.Join(section.Goals, "\n- "))
	}
	if section.TargetWords > 0 {
		fmt.Fprintf(&sb, "Target length: ~%d words\n", section.TargetWords)
	}

	style := plan.GlobalStyle
	if style.Tone != "" || style.POV != "" || len(style.FormattingRules) > 0 {
		sb.WriteString("\nStyle contract:\n")
		if style.Tone != "" {
			fmt.Fprintf(&sb, "- tone: %s\n", style.Tone)
		}
		if style.POV != "" {
			fmt.Fprintf(&sb, "- point of view: %s\n", style.POV)
		}
		for _, rule := range style.FormattingRules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
	}

	if deps := mem.SummariesFor(section.DependsOn); len(deps) > 0 {
		sb.WriteString("\nFacts declared by sections this one builds on:\n")
		for _, depID := range section.DependsOn {
			if summary, ok := deps[depID]; ok {
				fmt.Fprintf(&sb, "- %s: %s\n", depID, summary)
			}
		}
	}
	if terms := mem.GlossaryTerms(); len(terms) > 0 {
		sb.WriteString("\nEstablished terminology:\n")
		for _, term := range terms {
			fmt.Fprintf(&sb, "- %s: %s\n", term, mem.Glossary[term])
		}
	}

	if currentBody != "" {
		sb.WriteString("\nCurrent section body:\n\n" + currentBody + "\n")
	}
	return sb.String()
}
