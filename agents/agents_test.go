package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/flags"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/llm/testutil"
)

func TestInterviewerParsesQuestions(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: `[{"id": "audience", "q": "Who reads this?", "sample": "Engineers"}]`, Model: "m"},
	}}
	iv := NewInterviewer(mock, nil)

	var stats CallStats
	questions, fallback := iv.ProposeQuestions(context.Background(), docjob.JobParams{Topic: "caching"}, &stats)
	assert.False(t, fallback)
	require.Len(t, questions, 1)
	assert.Equal(t, "audience", questions[0].ID)
}

func TestInterviewerFallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		mock *testutil.MockClient
	}{
		{"llm error", &testutil.MockClient{Err: errors.New("down")}},
		{"no json", &testutil.MockClient{Responses: []*llm.Response{{Content: "I refuse."}}}},
		{"empty array", &testutil.MockClient{Responses: []*llm.Response{{Content: "[]"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := NewInterviewer(tt.mock, nil)
			var stats CallStats
			questions, fallback := iv.ProposeQuestions(context.Background(), docjob.JobParams{Topic: "x"}, &stats)
			assert.True(t, fallback)
			assert.Equal(t, docjob.DefaultQuestions(), questions)
		})
	}
}

func TestInterviewerCapsQuestionCount(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 20; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"id": "q` + string(rune('a'+i)) + `", "q": "?"}`)
	}
	sb.WriteString("]")
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: sb.String()}}}

	var stats CallStats
	questions, fallback := NewInterviewer(mock, nil).ProposeQuestions(context.Background(), docjob.JobParams{Topic: "x"}, &stats)
	assert.False(t, fallback)
	assert.Len(t, questions, docjob.MaxQuestions)
}

const goodPlanJSON = `{
	"title": "Caching Guide",
	"sections": [
		{"id": "intro", "title": "Introduction", "target_words": 500},
		{"id": "arch", "title": "Architecture", "depends_on": ["intro"], "target_words": 1200}
	],
	"global_style": {"tone": "formal"}
}`

func TestPlannerAcceptsValidPlan(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: goodPlanJSON, Model: "planner-model"}}}
	p := NewPlanner(mock, nil)

	var stats CallStats
	plan, err := p.BuildPlan(context.Background(), &docjob.IntakeContext{
		Params: docjob.JobParams{Topic: "caching", LengthPages: 60},
	}, &stats)
	require.NoError(t, err)
	assert.Equal(t, "Caching Guide", plan.Title)
	assert.Len(t, plan.Sections, 2)
	assert.Equal(t, "planner-model", stats.Model)
}

func TestPlannerRepairsInvalidPlanOnce(t *testing.T) {
	// First plan has a dependency cycle, second is valid.
	badPlan := `{"title": "T", "sections": [
		{"id": "a", "title": "A", "depends_on": ["b"]},
		{"id": "b", "title": "B", "depends_on": ["a"]}
	]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: badPlan},
		{Content: goodPlanJSON},
	}}
	p := NewPlanner(mock, nil)

	var stats CallStats
	plan, err := p.BuildPlan(context.Background(), &docjob.IntakeContext{Params: docjob.JobParams{Topic: "x"}}, &stats)
	require.NoError(t, err)
	assert.Equal(t, "Caching Guide", plan.Title)
	assert.Equal(t, 2, mock.CallCount())
}

func TestPlannerGivesUpAfterRepair(t *testing.T) {
	bad := `{"title": "T", "sections": []}`
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: bad}, {Content: bad}}}
	p := NewPlanner(mock, nil)

	var stats CallStats
	_, err := p.BuildPlan(context.Background(), &docjob.IntakeContext{Params: docjob.JobParams{Topic: "x"}}, &stats)
	require.Error(t, err)
	assert.ErrorIs(t, err, docjob.ErrInvalidPlan)
	assert.Equal(t, 2, mock.CallCount())
}

func TestPlannerAppliesAnswerOverrides(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: goodPlanJSON}}}
	p := NewPlanner(mock, nil)

	var stats CallStats
	plan, err := p.BuildPlan(context.Background(), &docjob.IntakeContext{
		Params:  docjob.JobParams{Topic: "x", Constraints: []string{"no first person"}},
		Answers: map[string]string{"tone": "conversational", "pov": "second person"},
	}, &stats)
	require.NoError(t, err)
	assert.Equal(t, "conversational", plan.GlobalStyle.Tone)
	assert.Equal(t, "second person", plan.GlobalStyle.POV)
	assert.Contains(t, plan.GlobalStyle.FormattingRules, "no first person")
}

func TestWriterIncludesDependencyContext(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: "Draft body."}}}
	w := NewWriter(mock, nil)

	plan := &docjob.Plan{Title: "T", Sections: []docjob.Section{
		{ID: "intro", Title: "Intro"},
		{ID: "arch", Title: "Arch", DependsOn: []string{"intro"}},
	}}
	mem := docjob.NewMemory()
	mem.SetSummary("intro", "the system has three tiers")

	var stats CallStats
	body, err := w.WriteSection(context.Background(), plan, plan.Section("arch"), mem, &stats)
	require.NoError(t, err)
	assert.Equal(t, "Draft body.", body)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[1].Content
	assert.Contains(t, prompt, "three tiers")
}

func TestWriterEmptyDraftIsTransient(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: "   "}}}
	w := NewWriter(mock, nil)

	var stats CallStats
	_, err := w.WriteSection(context.Background(), validAgentPlan(), &validAgentPlan().Sections[0], docjob.NewMemory(), &stats)
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func validAgentPlan() *docjob.Plan {
	return &docjob.Plan{Title: "T", Sections: []docjob.Section{{ID: "intro", Title: "Intro"}}}
}

func TestReviewerDropsUnknownSections(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{
		Content: `{"notes": [
			{"section_id": "intro", "severity": "high", "note": "thin"},
			{"section_id": "ghost", "severity": "high", "note": "hallucinated"}
		]}`,
	}}}
	r := NewReviewer(mock, docjob.FlavorGeneral)

	var stats CallStats
	report, err := r.Review(context.Background(), validAgentPlan(), map[string]string{"intro": "x"}, 1, &stats)
	require.NoError(t, err)
	require.Len(t, report.Notes, 1)
	assert.Equal(t, "intro", report.Notes[0].SectionID)
	assert.True(t, report.NeedsRewrite)
}

func TestReviewerFormatCorrectionRetry(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: "not json at all"},
		{Content: `{"notes": []}`},
	}}
	r := NewReviewer(mock, docjob.FlavorStyle)

	var stats CallStats
	report, err := r.Review(context.Background(), validAgentPlan(), map[string]string{"intro": "x"}, 1, &stats)
	require.NoError(t, err)
	assert.False(t, report.NeedsRewrite)
	assert.Equal(t, 2, mock.CallCount())
}

func TestActiveReviewersFollowFlags(t *testing.T) {
	mock := &testutil.MockClient{}

	all := ActiveReviewers(mock, flags.Flags{ReviewStyle: true, ReviewCohesion: true, ReviewSummary: true}, nil)
	require.Len(t, all, 4)
	assert.Equal(t, docjob.FlavorGeneral, all[0].Flavor())

	onlyGeneral := ActiveReviewers(mock, flags.Flags{}, nil)
	require.Len(t, onlyGeneral, 1)
}

func TestVerifierFlagsPlaceholders(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: `{"findings": []}`}}}
	v := NewVerifier(mock, nil)

	plan := &docjob.Plan{Title: "T", Sections: []docjob.Section{
		{ID: "intro", Title: "Intro"},
		{ID: "arch", Title: "Arch", DependsOn: []string{"intro"}},
	}}
	drafts := map[string]string{
		"intro": "placeholder",
		"arch":  strings.Repeat("Solid content about the architecture. ", 20),
	}

	var stats CallStats
	report, err := v.Verify(context.Background(), plan, drafts, docjob.NewMemory(), 1, &stats)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "intro", report.Findings[0].SectionID)
	assert.Equal(t, "placeholder", report.Findings[0].Kind)
	assert.False(t, report.Passed)
}

func TestVerifierContradictions(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{
		Content: `{"findings": [{"section_id": "arch", "detail": "tier count changed"}]}`,
	}}}
	v := NewVerifier(mock, nil)

	plan := &docjob.Plan{Title: "T", Sections: []docjob.Section{
		{ID: "intro", Title: "Intro"},
		{ID: "arch", Title: "Arch", DependsOn: []string{"intro"}},
	}}
	long := strings.Repeat("Real prose about the system. ", 20)
	mem := docjob.NewMemory()
	mem.SetSummary("intro", "three tiers")

	var stats CallStats
	report, err := v.Verify(context.Background(), plan, map[string]string{"intro": long, "arch": long}, mem, 1, &stats)
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "contradiction", report.Findings[0].Kind)
}

func TestSummarizerFallsBackToExcerpt(t *testing.T) {
	mock := &testutil.MockClient{Err: errors.New("down")}
	s := NewSummarizer(mock, nil)

	var stats CallStats
	summary, terms := s.Summarize(context.Background(), "intro", "Body text.", &stats)
	assert.Equal(t, "Body text.", summary)
	assert.Nil(t, terms)
}

func TestSummarizerParsesTerms(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{
		Content: `{"summary": "declares three tiers", "terms": {"tier": "a layer"}}`,
	}}}
	s := NewSummarizer(mock, nil)

	var stats CallStats
	summary, terms := s.Summarize(context.Background(), "intro", "body", &stats)
	assert.Equal(t, "declares three tiers", summary)
	assert.Equal(t, map[string]string{"tier": "a layer"}, terms)
}
