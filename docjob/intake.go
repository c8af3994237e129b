package docjob

// Question is one intake questionnaire entry proposed by the interviewer.
type Question struct {
	ID     string `json:"id"`
	Q      string `json:"q"`
	Sample string `json:"sample,omitempty"`
}

// MaxQuestions caps the questionnaire size; extra questions are dropped.
const MaxQuestions = 12

// DefaultQuestions is the fallback questionnaire used when the interviewer
// fails or returns output that cannot be parsed. Intake must never block a
// job on a model failure.
func DefaultQuestions() []Question {
	return []Question{
		{ID: "audience", Q: "Who is the primary audience for this document?", Sample: "Senior engineers evaluating the system"},
		{ID: "depth", Q: "How deep should the technical detail go?", Sample: "Implementation-level with code references"},
		{ID: "scope", Q: "Are there topics that must be included or excluded?", Sample: "Include deployment; exclude billing"},
		{ID: "structure", Q: "Do you have a preferred document structure?", Sample: "Overview, architecture, operations, appendix"},
		{ID: "tone", Q: "What tone should the document take?", Sample: "Formal and precise"},
		{ID: "sources", Q: "Are there sources or references the document should draw on?", Sample: "Internal design docs and the public API reference"},
	}
}

// IntakeContext is the deterministic snapshot of job parameters and answers
// the planner consumes. It carries no timestamps so re-running intake-resume
// with the same answers yields a byte-identical artifact.
type IntakeContext struct {
	Params  JobParams         `json:"params"`
	Answers map[string]string `json:"answers,omitempty"`
}
