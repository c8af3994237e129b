package docjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *Plan {
	return &Plan{
		Title: "Distributed Cache Design",
		Sections: []Section{
			{ID: "intro", Title: "Introduction"},
			{ID: "arch", Title: "Architecture", DependsOn: []string{"intro"}},
			{ID: "ops", Title: "Operations", DependsOn: []string{"arch"}},
			{ID: "glossary", Title: "Glossary"},
		},
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Plan)
		wantErr string
	}{
		{name: "valid", mutate: func(*Plan) {}},
		{
			name:    "no sections",
			mutate:  func(p *Plan) { p.Sections = nil },
			wantErr: "no sections",
		},
		{
			name: "duplicate id",
			mutate: func(p *Plan) {
				p.Sections = append(p.Sections, Section{ID: "intro", Title: "Again"})
			},
			wantErr: "duplicate section id",
		},
		{
			name: "unknown dependency",
			mutate: func(p *Plan) {
				p.Sections[1].DependsOn = []string{"missing"}
			},
			wantErr: "unknown section",
		},
		{
			name: "self dependency",
			mutate: func(p *Plan) {
				p.Sections[0].DependsOn = []string{"intro"}
			},
			wantErr: "depends on itself",
		},
		{
			name: "forward dependency",
			mutate: func(p *Plan) {
				p.Sections[0].DependsOn = []string{"glossary"}
			},
			wantErr: "later section",
		},
		{
			name: "cycle",
			mutate: func(p *Plan) {
				p.Sections[0].DependsOn = []string{"ops"}
			},
			wantErr: "later section",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlanTopoOrderDeterministic(t *testing.T) {
	p := validPlan()

	first, err := p.TopoOrder()
	require.NoError(t, err)

	// Dependencies come before dependents, ties break by plan order.
	assert.Equal(t, []string{"intro", "glossary", "arch", "ops"}, first)

	for range 10 {
		again, err := p.TopoOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPlanTopoOrderRejectsCycle(t *testing.T) {
	p := &Plan{
		Title: "Cyclic",
		Sections: []Section{
			{ID: "a", Title: "A", DependsOn: []string{"b"}},
			{ID: "b", Title: "B", DependsOn: []string{"a"}},
		},
	}

	_, err := p.TopoOrder()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCycleStateClamps(t *testing.T) {
	c := CycleState{Requested: 2, Completed: 0}
	assert.Equal(t, 2, c.Remaining())
	assert.False(t, c.Exhausted())

	c.Completed = 3 // over-completed never goes negative
	assert.Equal(t, 0, c.Remaining())
	assert.True(t, c.Exhausted())
}

func TestJobParamsNormalize(t *testing.T) {
	p := JobParams{Topic: "x"}
	p.Normalize()
	assert.Equal(t, DefaultLengthPages, p.LengthPages)
	assert.Equal(t, DefaultReviewCycles, p.ReviewCycles)

	p = JobParams{Topic: "x", LengthPages: 10, ReviewCycles: 99}
	p.Normalize()
	assert.Equal(t, MinLengthPages, p.LengthPages)
	assert.Equal(t, MaxReviewCycles, p.ReviewCycles)
}

func TestRewritePolicyFlaggedSections(t *testing.T) {
	p := validPlan()
	policy := DefaultRewritePolicy()

	reviews := []ReviewReport{
		{Flavor: FlavorGeneral, Notes: []ReviewNote{
			{SectionID: "ops", Severity: SeverityHigh, Note: "missing runbook"},
			{SectionID: "intro", Severity: SeverityLow, Note: "nit"},
		}},
		{Flavor: FlavorStyle, Notes: []ReviewNote{
			{SectionID: "arch", Severity: SeverityMedium, Note: "tone drift"},
		}},
	}
	verify := &VerifyReport{Findings: []VerifyFinding{
		{SectionID: "glossary", Kind: "placeholder"},
	}}

	flagged := policy.FlaggedSections(p, reviews, verify)

	// Plan order, low-severity note excluded, verifier finding included.
	assert.Equal(t, []string{"arch", "ops", "glossary"}, flagged)
}
