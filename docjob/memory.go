package docjob

import "sort"

// Memory is the shared cross-section state writers accumulate: a summary of
// declared facts per completed section plus glossary terms coined while
// writing. Version mirrors the compare-and-swap counter guarding updates.
type Memory struct {
	Version   int               `json:"memory_version"`
	Summaries map[string]string `json:"summaries,omitempty"` // section id -> summary
	Glossary  map[string]string `json:"glossary,omitempty"`
}

// NewMemory returns an empty memory snapshot.
func NewMemory() *Memory {
	return &Memory{
		Summaries: make(map[string]string),
		Glossary:  make(map[string]string),
	}
}

// SetSummary records the declared-facts summary for a section.
func (m *Memory) SetSummary(sectionID, summary string) {
	if m.Summaries == nil {
		m.Summaries = make(map[string]string)
	}
	m.Summaries[sectionID] = summary
}

// MergeGlossary adds terms without overwriting existing definitions.
// First writer wins so established terminology stays stable.
func (m *Memory) MergeGlossary(terms map[string]string) {
	if len(terms) == 0 {
		return
	}
	if m.Glossary == nil {
		m.Glossary = make(map[string]string)
	}
	for k, v := range terms {
		if _, ok := m.Glossary[k]; !ok {
			m.Glossary[k] = v
		}
	}
}

// SummariesFor returns summaries for the given section IDs, skipping
// sections with no recorded summary, in the order given.
func (m *Memory) SummariesFor(sectionIDs []string) map[string]string {
	out := make(map[string]string)
	for _, id := range sectionIDs {
		if s, ok := m.Summaries[id]; ok {
			out[id] = s
		}
	}
	return out
}

// GlossaryTerms returns the glossary terms sorted for deterministic output.
func (m *Memory) GlossaryTerms() []string {
	terms := make([]string, 0, len(m.Glossary))
	for t := range m.Glossary {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}
