package docjob

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidPlan wraps all plan validation failures so callers can decide
// between repair and dead-letter with a single errors.Is check.
var ErrInvalidPlan = errors.New("invalid plan")

// GlobalStyle is the document-wide style contract the planner produces and
// every writer call carries.
type GlobalStyle struct {
	Tone            string   `json:"tone,omitempty"`
	POV             string   `json:"pov,omitempty"`
	FormattingRules []string `json:"formatting_rules,omitempty"`
}

// Section is one planned section of the document.
type Section struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Goals       []string `json:"goals,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	TargetWords int      `json:"target_words,omitempty"`
}

// DiagramSpec is a diagram the planner asks for up front, rendered during
// diagram-prep alongside any diagrams extracted from drafts.
type DiagramSpec struct {
	Name      string `json:"name"`
	Kind      string `json:"kind,omitempty"`
	SectionID string `json:"section_id,omitempty"`
	Brief     string `json:"brief,omitempty"`
}

// Plan is the planner's output: the outline plus document-wide context.
type Plan struct {
	Title        string            `json:"title"`
	Sections     []Section         `json:"sections"`
	Glossary     map[string]string `json:"glossary,omitempty"`
	GlobalStyle  GlobalStyle       `json:"global_style,omitempty"`
	DiagramSpecs []DiagramSpec     `json:"diagram_specs,omitempty"`
}

// Validate checks the structural invariants of a plan: at least one
// section, unique section IDs, and dependencies that refer to sections
// appearing earlier in the plan. Earlier-only references make the graph
// acyclic by construction.
func (p *Plan) Validate() error {
	if len(p.Sections) == 0 {
		return fmt.Errorf("%w: plan has no sections", ErrInvalidPlan)
	}

	ids := make(map[string]bool, len(p.Sections))
	for _, s := range p.Sections {
		if s.ID == "" {
			return fmt.Errorf("%w: section with empty id (title %q)", ErrInvalidPlan, s.Title)
		}
		if ids[s.ID] {
			return fmt.Errorf("%w: duplicate section id %q", ErrInvalidPlan, s.ID)
		}
		ids[s.ID] = true
	}

	earlier := make(map[string]bool, len(p.Sections))
	for _, s := range p.Sections {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("%w: section %q depends on unknown section %q", ErrInvalidPlan, s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("%w: section %q depends on itself", ErrInvalidPlan, s.ID)
			}
			if !earlier[dep] {
				return fmt.Errorf("%w: section %q depends on later section %q", ErrInvalidPlan, s.ID, dep)
			}
		}
		earlier[s.ID] = true
	}
	return nil
}

// TopoOrder returns section IDs in a deterministic topological order:
// dependencies before dependents, ties broken by plan order. Returns
// ErrInvalidPlan when the dependency graph has a cycle.
func (p *Plan) TopoOrder() ([]string, error) {
	planIndex := make(map[string]int, len(p.Sections))
	indegree := make(map[string]int, len(p.Sections))
	dependents := make(map[string][]string)

	for i, s := range p.Sections {
		planIndex[s.ID] = i
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range p.Sections {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	order := make([]string, 0, len(p.Sections))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return planIndex[ready[i]] < planIndex[ready[j]]
		})
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(p.Sections) {
		return nil, fmt.Errorf("%w: dependency cycle among sections", ErrInvalidPlan)
	}
	return order, nil
}

// Section returns the section with the given ID, or nil.
func (p *Plan) Section(id string) *Section {
	for i := range p.Sections {
		if p.Sections[i].ID == id {
			return &p.Sections[i]
		}
	}
	return nil
}

// SectionIDs returns all section IDs in plan order.
func (p *Plan) SectionIDs() []string {
	ids := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		ids[i] = s.ID
	}
	return ids
}
