package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/store"
)

// DiagramRender renders one diagram to PNG (and SVG when configured)
// and counts it toward the finalize fan-in. A source the renderer
// rejects outright is logged and skipped, the image simply missing from
// the final document; render counting happens either way so a bad
// diagram never wedges the job.
func DiagramRender(ctx context.Context, deps *Deps, msg *docjob.StageMessage) (*Result, error) {
	paths := store.NewJobPaths(msg.OwnerID, msg.JobID)

	name := msg.Input("diagram")
	if name == "" {
		return nil, Permanent(errors.New("diagram-render message names no diagram"))
	}

	var manifest diagram.Manifest
	if err := getJSON(ctx, deps.Objects, paths.DiagramIndex(), &manifest); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotReady("diagram manifest not written yet")
		}
		return nil, err
	}
	entry := manifest.Entry(name)
	if entry == nil {
		return nil, Permanent(fmt.Errorf("diagram %q not in manifest", name))
	}

	rendered, err := deps.Objects.Exists(ctx, entry.PNGKey)
	if err != nil {
		return nil, err
	}

	notes := "rendered"
	if !rendered {
		source, err := deps.Objects.Get(ctx, entry.SourceKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NotReady("diagram source %s not written yet", entry.SourceKey)
			}
			return nil, err
		}
		src := diagram.Normalize(string(source))

		png, err := deps.Renderer.RenderPNG(ctx, src)
		switch {
		case err == nil:
			if err := deps.Objects.Put(ctx, entry.PNGKey, png); err != nil {
				return nil, err
			}
			if entry.SVGKey != "" {
				if svg, svgErr := deps.Renderer.RenderSVG(ctx, src); svgErr == nil {
					if err := deps.Objects.Put(ctx, entry.SVGKey, svg); err != nil {
						return nil, err
					}
				} else {
					deps.logger().Warn("SVG render failed, PNG kept",
						"job_id", msg.JobID, "diagram", name, "error", svgErr)
				}
			}
		case llm.IsFatal(err):
			// Rejected source. Count it so finalize is not starved.
			deps.logger().Warn("Diagram source rejected by renderer, skipping image",
				"job_id", msg.JobID, "diagram", name, "error", err)
			notes = "source rejected, image skipped"
		default:
			return nil, err
		}
	}

	next, err := finalizeWhenRendered(ctx, deps, msg, paths, len(manifest.Diagrams))
	if err != nil {
		return nil, err
	}

	return &Result{
		Details: docjob.EventDetails{
			Artifact: entry.PNGKey,
			Notes:    fmt.Sprintf("%s: %s", name, notes),
		},
		Next: next,
	}, nil
}

// finalizeWhenRendered bumps the render counter and, when this was the
// last diagram, wins (at most once) the right to enqueue finalize.
func finalizeWhenRendered(ctx context.Context, deps *Deps, msg *docjob.StageMessage, paths store.JobPaths, total int) ([]Enqueue, error) {
	n, err := deps.Status.Increment(ctx, paths.DiagramCounter())
	if err != nil {
		return nil, err
	}
	if n < total {
		return nil, nil
	}

	kick, err := deps.Status.Increment(ctx, paths.FinalizeKickoffCounter())
	if err != nil {
		return nil, err
	}
	if kick != 1 {
		return nil, nil
	}
	return []Enqueue{{
		Queue: QueueFor(docjob.StageFinalize),
		Msg: docjob.StageMessage{
			JobID:   msg.JobID,
			OwnerID: msg.OwnerID,
			Stage:   docjob.StageFinalize,
			TraceID: msg.TraceID,
		},
	}}, nil
}
