package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
)

// Interviewer proposes the intake questionnaire for a job.
type Interviewer struct {
	client llm.Client
	logger *slog.Logger
}

// NewInterviewer creates an interviewer.
func NewInterviewer(client llm.Client, logger *slog.Logger) *Interviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interviewer{client: client, logger: logger.With("agent", "interviewer")}
}

const interviewerSystemPrompt = `You prepare intake questionnaires for long-form technical documents.
Given the document request, propose the clarifying questions whose answers
would most improve the document. Each question needs a short stable id, the
question text, and a plausible sample answer.

Respond with ONLY a JSON array:
[{"id": "audience", "q": "...", "sample": "..."}]`

// ProposeQuestions asks the model for a questionnaire. Intake never fails
// on model trouble: any error or unparsable output falls back to the
// default questionnaire, and the fallback flag reports which happened.
func (iv *Interviewer) ProposeQuestions(ctx context.Context, params docjob.JobParams, stats *CallStats) (questions []docjob.Question, usedFallback bool) {
	userPrompt := fmt.Sprintf(
		"Document request:\ntopic: %s\naudience: %s\nlength: %d pages\ntone: %s\nconstraints: %v",
		params.Topic, params.Audience, params.LengthPages, params.Tone, params.Constraints)

	resp, err := iv.client.Complete(ctx, llm.Request{
		Role: model.RoleInterviewer,
		Messages: []llm.Message{
			{Role: "system", Content: interviewerSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		iv.logger.Warn("Interviewer call failed, using default questionnaire", "error", err)
		return docjob.DefaultQuestions(), true
	}
	stats.Add(resp)

	raw := llm.ExtractJSONArray(resp.Content)
	if raw == "" {
		iv.logger.Warn("Interviewer output had no JSON array, using default questionnaire")
		return docjob.DefaultQuestions(), true
	}
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		iv.logger.Warn("Interviewer output unparsable, using default questionnaire", "error", err)
		return docjob.DefaultQuestions(), true
	}

	// Drop malformed entries; an empty result still falls back.
	valid := questions[:0]
	for _, q := range questions {
		if q.ID != "" && q.Q != "" {
			valid = append(valid, q)
		}
	}
	if len(valid) == 0 {
		return docjob.DefaultQuestions(), true
	}
	if len(valid) > docjob.MaxQuestions {
		valid = valid[:docjob.MaxQuestions]
	}
	return valid, false
}
