package agents

import (
	"context"
	"log/slog"

	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// Summarizer condenses a finished draft into the declared-facts summary
// that downstream sections and the verifier consume.
type Summarizer struct {
	client llm.Client
	logger *slog.Logger
}

// NewSummarizer creates a summarizer.
func NewSummarizer(client llm.Client, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, logger: logger.With("agent", "summarizer")}
}

const summarizerSystemPrompt = `You extract the declared facts from one section of a technical document.
List the concrete claims, decisions, names, and numbers the section commits
to, as a compact summary other writers can stay consistent with. Also pick
out any new terms the section defines.

Respond with ONLY a JSON object:
{"summary": "...", "terms": {"term": "definition"}}`

type summaryResult struct {
	Summary string            `json:"summary"`
	Terms   map[string]string `json:"terms,omitempty"`
}

// Summarize produces the summary and new glossary terms for a draft. On
// model failure it degrades to a truncated excerpt rather than failing
// the stage: a rough summary beats blocking the pipeline.
func (s *Summarizer) Summarize(ctx context.Context, sectionID, body string, stats *CallStats) (summary string, terms map[string]string) {
	var result summaryResult
	err := completeJSON(ctx, s.client, model.RoleSummarizer, []llm.Message{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: "Section " + sectionID + ":\n\n" + body},
	}, maxFormatRetries, &result, stats)
	if err != nil || result.Summary == "" {
		s.logger.Warn("Summarizer degraded to excerpt", "section", sectionID, "error", err)
		return excerpt(body), nil
	}
	return result.Summary, result.Terms
}

// excerpt returns the head of a draft as a fallback summary.
func excerpt(body string) string {
	const maxLen = 600
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "..."
}
