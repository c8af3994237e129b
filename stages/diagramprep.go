package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/model"
	"github.com/c360studio/docwriter/store"
)

// DiagramPrep collects every diagram for the job: PlantUML blocks
// embedded in the drafts, plus sources generated from the plan's
// diagram specs. It stores the sources and a manifest, then fans out
// one render message per diagram. Spec-driven generation is best
// effort; a diagram the model cannot produce is skipped with a warning
// rather than blocking the document.
func DiagramPrep(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}
	drafts, err := loadDrafts(ctx, deps, paths, plan)
	if err != nil {
		return nil, err
	}

	manifest := &diagram.Manifest{}
	taken := make(map[string]bool)

	for _, sec := range plan.Sections {
		body := export.UnwrapSection(sec.ID, drafts[sec.ID])
		for _, ex := range diagram.ExtractFromDraft(sec.ID, body) {
			name := uniqueName(ex.Name, taken)
			src := diagram.Normalize(ex.Source)
			if src == "" {
				continue
			}
			if err := deps.Objects.Put(ctx, paths.DiagramSource(name), []byte(src)); err != nil {
				return nil, err
			}
			manifest.Diagrams = append(manifest.Diagrams, manifestEntry(deps, paths, name, ex.SectionID, false))
		}
	}

	var stats callStatsLite
	for _, spec := range plan.DiagramSpecs {
		src, tokens, mdl := generateSpecDiagram(ctx, deps, plan, &spec)
		stats.tokens += tokens
		if mdl != "" {
			stats.model = mdl
		}
		if src == "" {
			deps.logger().Warn("Skipping spec diagram, no usable source",
				"job_id", msg.JobID, "diagram", spec.Name)
			continue
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s-spec-diagram", spec.SectionID)
		}
		name = uniqueName(name, taken)
		if err := deps.Objects.Put(ctx, paths.DiagramSource(name), []byte(src)); err != nil {
			return nil, err
		}
		manifest.Diagrams = append(manifest.Diagrams, manifestEntry(deps, paths, name, spec.SectionID, true))
	}

	if err := putJSON(ctx, deps.Objects, paths.DiagramIndex(), manifest); err != nil {
		return nil, err
	}

	var next []Enqueue
	if len(manifest.Diagrams) == 0 {
		next = append(next, Enqueue{
			Queue: QueueFor(docjob.StageFinalize),
			Msg: docjob.StageMessage{
				JobID:   msg.JobID,
				OwnerID: msg.OwnerID,
				Stage:   docjob.StageFinalize,
				TraceID: msg.TraceID,
			},
		})
	} else {
		for _, entry := range manifest.Diagrams {
			next = append(next, Enqueue{
				Queue: QueueFor(docjob.StageDiagramRender),
				Msg: docjob.StageMessage{
					JobID:   msg.JobID,
					OwnerID: msg.OwnerID,
					Stage:   docjob.StageDiagramRender,
					Inputs:  map[string]string{"diagram": entry.Name},
					TraceID: msg.TraceID,
				},
			})
		}
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact: paths.DiagramIndex(),
			Tokens:   stats.tokens,
			Model:    stats.model,
			Notes:    fmt.Sprintf("%d diagrams", len(manifest.Diagrams)),
		},
		Next: next,
	}, nil
}

type callStatsLite struct {
	tokens int
	model  string
}

// generateSpecDiagram asks the writer model for PlantUML matching one
// plan diagram spec. Any failure returns an empty source.
func generateSpecDiagram(ctx context.Context, deps *Deps, plan *docjob.Plan, spec *docjob.DiagramSpec) (source string, tokens int, mdl string) {
	var sb strings.Builder
	sb.WriteString("Produce a PlantUML diagram for a technical document titled ")
	fmt.Fprintf(&sb, "%q.\n", plan.Title)
	fmt.Fprintf(&sb, "Diagram kind: %s\n", spec.Kind)
	fmt.Fprintf(&sb, "What it must show: %s\n", spec.Brief)
	sb.WriteString("Respond with only the PlantUML source, starting with @startuml and ending with @enduml.")

	resp, err := deps.LLM.Complete(ctx, llm.Request{
		Role:     model.RoleWriter,
		Messages: []llm.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		deps.logger().Warn("Spec diagram generation failed",
			"diagram", spec.Name, "error", err)
		return "", 0, ""
	}
	return diagram.Normalize(resp.Content), resp.Usage.TotalTokens, resp.Model
}

func manifestEntry(deps *Deps, paths store.JobPaths, name, sectionID string, fromSpec bool) diagram.ManifestEntry {
	entry := diagram.ManifestEntry{
		Name:      name,
		SectionID: sectionID,
		SourceKey: paths.DiagramSource(name),
		PNGKey:    paths.DiagramPNG(name),
		FromSpec:  fromSpec,
	}
	if deps.RenderSVG {
		entry.SVGKey = paths.DiagramSVG(name)
	}
	return entry
}

func uniqueName(base string, taken map[string]bool) string {
	name := base
	for i := 2; taken[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	taken[name] = true
	return name
}
