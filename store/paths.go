package store

import (
	"fmt"
	"strings"

	"github.com/c360studio/docwriter/docjob"
)

// JobPaths computes artifact keys for one job. Every key lives under the
// owner's prefix, which is the isolation boundary: a worker never reads or
// writes outside the prefix of the message it is processing.
type JobPaths struct {
	OwnerID string
	JobID   string
}

// NewJobPaths builds the path helper for a job.
func NewJobPaths(ownerID, jobID string) JobPaths {
	return JobPaths{OwnerID: ownerID, JobID: jobID}
}

// Root returns the job's key prefix, with trailing slash.
func (p JobPaths) Root() string {
	return fmt.Sprintf("jobs/%s/%s/", p.OwnerID, p.JobID)
}

// Owns reports whether key lies inside this job's prefix.
func (p JobPaths) Owns(key string) bool {
	return strings.HasPrefix(key, p.Root())
}

func (p JobPaths) Questions() string     { return p.Root() + "intake/questions.json" }
func (p JobPaths) SampleAnswers() string { return p.Root() + "intake/sample_answers.json" }
func (p JobPaths) Answers() string       { return p.Root() + "intake/answers.json" }
func (p JobPaths) Context() string       { return p.Root() + "intake/context.json" }

func (p JobPaths) Plan() string   { return p.Root() + "plan.json" }
func (p JobPaths) Memory() string { return p.Root() + "memory.json" }

func (p JobPaths) Draft(sectionID string) string {
	return p.Root() + "drafts/" + sectionID + ".md"
}

func (p JobPaths) DraftsPrefix() string { return p.Root() + "drafts/" }

func (p JobPaths) Review(cycle int, flavor docjob.ReviewFlavor) string {
	return fmt.Sprintf("%sreviews/cycle-%d/%s.json", p.Root(), cycle, flavor)
}

func (p JobPaths) VerifyReport(cycle int) string {
	return fmt.Sprintf("%sreviews/cycle-%d/verify.json", p.Root(), cycle)
}

func (p JobPaths) Rewrite(cycle int, sectionID string) string {
	return fmt.Sprintf("%srewrites/cycle-%d/%s.md", p.Root(), cycle, sectionID)
}

func (p JobPaths) DiagramSource(name string) string {
	return p.Root() + "diagrams/" + name + ".puml"
}

func (p JobPaths) DiagramPNG(name string) string {
	return p.Root() + "diagrams/" + name + ".png"
}

func (p JobPaths) DiagramSVG(name string) string {
	return p.Root() + "diagrams/" + name + ".svg"
}

func (p JobPaths) DiagramIndex() string   { return p.Root() + "diagrams/index.json" }
func (p JobPaths) DiagramArchive() string { return p.Root() + "diagrams.zip" }
func (p JobPaths) DiagramsPrefix() string { return p.Root() + "diagrams/" }

func (p JobPaths) FinalMarkdown() string { return p.Root() + "final.md" }
func (p JobPaths) FinalPDF() string      { return p.Root() + "final.pdf" }
func (p JobPaths) FinalDOCX() string     { return p.Root() + "final.docx" }

// Metrics returns the stage metrics blob key. Cycle-scoped stages embed
// the cycle; one-shot stages use "once".
func (p JobPaths) Metrics(stage docjob.Stage, cycle int) string {
	suffix := "once"
	if cycle > 0 {
		suffix = fmt.Sprintf("cycle%d", cycle)
	}
	return fmt.Sprintf("%smetrics/%s_%s.json", p.Root(), stage, suffix)
}

// Counter names scoped to this job.

// DiagramCounter tracks rendered diagrams for the finalize fan-in.
func (p JobPaths) DiagramCounter() string {
	return fmt.Sprintf("diagrams_rendered.%s.%s", p.OwnerID, p.JobID)
}

// ReviewKickoffCounter guards the single enqueue of review cycle 1.
func (p JobPaths) ReviewKickoffCounter() string {
	return fmt.Sprintf("review_kickoff.%s.%s", p.OwnerID, p.JobID)
}

// FinalizeKickoffCounter guards the single enqueue of finalize after the
// last diagram renders.
func (p JobPaths) FinalizeKickoffCounter() string {
	return fmt.Sprintf("finalize_kickoff.%s.%s", p.OwnerID, p.JobID)
}
