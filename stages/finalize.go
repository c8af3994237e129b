package stages

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/store"
)

// Finalize assembles the drafts into the deliverable document, converts
// it to PDF and DOCX when a converter is configured, and bundles the
// diagram assets. Diagrams whose render was skipped are filtered out of
// the manifest first so the document never references a missing image.
func Finalize(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	plan, err := loadPlan(ctx, deps, paths)
	if err != nil {
		return nil, err
	}
	drafts, err := loadDrafts(ctx, deps, paths, plan)
	if err != nil {
		return nil, err
	}

	var manifest diagram.Manifest
	if err := getJSON(ctx, deps.Objects, paths.DiagramIndex(), &manifest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotReady("diagram manifest not written yet")
		}
		return nil, err
	}

	rendered := diagram.Manifest{}
	for _, entry := range manifest.Diagrams {
		ok, err := deps.Objects.Exists(ctx, entry.PNGKey)
		if err != nil {
			return nil, err
		}
		if ok {
			rendered.Diagrams = append(rendered.Diagrams, entry)
		}
	}

	doc, err := export.NewAssembler().Assemble(plan, drafts, &rendered)
	if err != nil {
		return nil, Permanent(err)
	}
	if err := deps.Objects.Put(ctx, paths.FinalMarkdown(), []byte(doc)); err != nil {
		return nil, err
	}
	artifacts := []string{paths.FinalMarkdown()}

	conv := deps.converter()
	if pdf, err := conv.ToPDF(ctx, []byte(doc)); err == nil {
		if err := deps.Objects.Put(ctx, paths.FinalPDF(), pdf); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths.FinalPDF())
	} else if !errors.Is(err, export.ErrConverterUnavailable) {
		return nil, err
	}
	if docx, err := conv.ToDOCX(ctx, []byte(doc)); err == nil {
		if err := deps.Objects.Put(ctx, paths.FinalDOCX(), docx); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths.FinalDOCX())
	} else if !errors.Is(err, export.ErrConverterUnavailable) {
		return nil, err
	}

	if len(rendered.Diagrams) > 0 {
		archive, err := bundleDiagrams(ctx, deps, &rendered)
		if err != nil {
			return nil, err
		}
		if err := deps.Objects.Put(ctx, paths.DiagramArchive(), archive); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths.DiagramArchive())
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact:  paths.FinalMarkdown(),
			Artifacts: artifacts,
			Title:     plan.Title,
			Notes:     fmt.Sprintf("%d sections, %d diagrams", len(plan.Sections), len(rendered.Diagrams)),
		},
		Events: []docjob.StatusEvent{{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   msg.Stage,
			Phase:   docjob.PhaseFinalizeDone,
			Message: fmt.Sprintf("document %q complete", plan.Title),
			Details: docjob.EventDetails{
				Artifact:  paths.FinalMarkdown(),
				Artifacts: artifacts,
				Title:     plan.Title,
			},
			TraceID: msg.TraceID,
		}},
	}, nil
}

// bundleDiagrams zips each rendered diagram's source and images under
// flat file names.
func bundleDiagrams(ctx context.Context, deps *Deps, manifest *diagram.Manifest) ([]byte, error) {
	files := make(map[string][]byte)
	for _, entry := range manifest.Diagrams {
		for _, key := range []string{entry.SourceKey, entry.PNGKey, entry.SVGKey} {
			if key == "" {
				continue
			}
			data, err := deps.Objects.Get(ctx, key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			files[path.Base(key)] = data
		}
	}
	return export.BundleArchive(files)
}
