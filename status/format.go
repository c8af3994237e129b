package status

import (
	"fmt"
	"strings"

	"github.com/c360studio/docwriter/docjob"
)

// stageLabels are the display names used in status messages.
var stageLabels = map[docjob.Stage]string{
	docjob.StagePlanIntake:    "Plan Intake",
	docjob.StageIntakeResume:  "Intake Resume",
	docjob.StagePlan:          "Planning",
	docjob.StageWrite:         "Writing",
	docjob.StageReview:        "Review",
	docjob.StageVerify:        "Verification",
	docjob.StageRewrite:       "Rewrite",
	docjob.StageDiagramPrep:   "Diagram Preparation",
	docjob.StageDiagramRender: "Diagram Rendering",
	docjob.StageFinalize:      "Finalization",
}

// StageLabel returns the display name for a stage.
func StageLabel(stage docjob.Stage) string {
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return string(stage)
}

// FormatStageMessage renders the pipe-delimited completion message shown in
// job timelines. Empty detail fields are omitted; the stage label always
// leads. The format is stable: downstream consumers parse it.
func FormatStageMessage(stage docjob.Stage, details docjob.EventDetails) string {
	parts := []string{"stage completed: " + StageLabel(stage)}
	if details.Artifact != "" {
		parts = append(parts, "stage document: "+details.Artifact)
	}
	if details.DurationS > 0 {
		parts = append(parts, fmt.Sprintf("stage time: %.1fs", details.DurationS))
	}
	if details.Tokens > 0 {
		parts = append(parts, fmt.Sprintf("stage tokens: %d", details.Tokens))
	}
	if details.Model != "" {
		parts = append(parts, "stage model: "+details.Model)
	}
	return strings.Join(parts, " | ")
}
