// Package agents implements the LLM-facing roles of the pipeline:
// interviewer, planner, writer, summarizer, the review flavors, the
// verifier, and the rewriter. Each agent owns its prompts and output
// parsing; durable state and queue mechanics live in the stage handlers.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// maxFormatRetries bounds the format-correction loop: when a model
// returns unparsable output, the parse error is fed back as a correction
// prompt up to this many extra attempts.
const maxFormatRetries = 5

// CallStats aggregates token usage across the LLM calls of one stage.
type CallStats struct {
	Tokens int
	Model  string
}

// Add folds one response into the stats.
func (s *CallStats) Add(resp *llm.Response) {
	if resp == nil {
		return
	}
	s.Tokens += resp.Usage.TotalTokens
	if resp.Model != "" {
		s.Model = resp.Model
	}
}

// completeJSON runs a completion and unmarshals the response into target,
// feeding parse failures back to the model as correction prompts up to
// retries extra attempts.
func completeJSON(ctx context.Context, client llm.Client, role model.Role, messages []llm.Message, retries int, target any, stats *CallStats) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := client.Complete(ctx, llm.Request{Role: role, Messages: messages})
		if err != nil {
			return err
		}
		stats.Add(resp)

		raw := llm.ExtractJSON(resp.Content)
		if raw == "" {
			lastErr = fmt.Errorf("no JSON object in response")
		} else if err := json.Unmarshal([]byte(raw), target); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
		} else {
			return nil
		}

		if attempt < retries {
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: formatCorrectionPrompt(lastErr)},
			)
		}
	}
	return fmt.Errorf("model output unparsable after %d attempts: %w", retries+1, lastErr)
}

// formatCorrectionPrompt asks the model to fix its previous output.
func formatCorrectionPrompt(parseErr error) string {
	return fmt.Sprintf(
		"Your previous response could not be parsed: %v\n\nRespond again with ONLY the corrected JSON, no prose and no markdown fences.",
		parseErr)
}
