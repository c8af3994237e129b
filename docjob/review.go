package docjob

// ReviewFlavor identifies one reviewer pass.
type ReviewFlavor string

// Review flavors. General always runs; the others are feature-flagged.
const (
	FlavorGeneral  ReviewFlavor = "general"
	FlavorStyle    ReviewFlavor = "style"
	FlavorCohesion ReviewFlavor = "cohesion"
	FlavorSummary  ReviewFlavor = "summary"
)

// Severity levels for review notes, ordered low to high.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// severityRank maps severities to a comparable order. Unknown severities
// rank below low so malformed reviewer output never forces a rewrite.
func severityRank(s string) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// ReviewNote is a single finding against a section.
type ReviewNote struct {
	SectionID string `json:"section_id"`
	Severity  string `json:"severity"`
	Note      string `json:"note"`
}

// ReviewReport is the output of one reviewer flavor for one cycle.
type ReviewReport struct {
	Flavor       ReviewFlavor `json:"flavor"`
	Cycle        int          `json:"cycle"`
	Notes        []ReviewNote `json:"notes,omitempty"`
	NeedsRewrite bool         `json:"needs_rewrite"`
}

// VerifyFinding is a contradiction or placeholder the verifier found.
type VerifyFinding struct {
	SectionID string `json:"section_id"`
	Kind      string `json:"kind"` // "contradiction" or "placeholder"
	Detail    string `json:"detail,omitempty"`
}

// VerifyReport is the verifier's output for one cycle.
type VerifyReport struct {
	Cycle    int             `json:"cycle"`
	Findings []VerifyFinding `json:"findings,omitempty"`
	Passed   bool            `json:"passed"`
}

// RewritePolicy decides which sections a rewrite cycle touches.
type RewritePolicy struct {
	// MinSeverity is the lowest review severity that flags a section.
	MinSeverity string
}

// DefaultRewritePolicy flags sections with medium findings or worse.
func DefaultRewritePolicy() RewritePolicy {
	return RewritePolicy{MinSeverity: SeverityMedium}
}

// FlaggedSections returns the deduplicated section IDs needing rewrite,
// in plan order: review notes at or above MinSeverity from any flavor,
// plus every verifier finding regardless of severity.
func (rp RewritePolicy) FlaggedSections(plan *Plan, reviews []ReviewReport, verify *VerifyReport) []string {
	flagged := make(map[string]bool)
	min := severityRank(rp.MinSeverity)

	for _, rep := range reviews {
		for _, n := range rep.Notes {
			if severityRank(n.Severity) >= min {
				flagged[n.SectionID] = true
			}
		}
	}
	if verify != nil {
		for _, f := range verify.Findings {
			flagged[f.SectionID] = true
		}
	}

	var out []string
	for _, id := range plan.SectionIDs() {
		if flagged[id] {
			out = append(out, id)
		}
	}
	return out
}
