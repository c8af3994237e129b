package stages

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
	"github.com/c360studio/docwriter/export"
	"github.com/c360studio/docwriter/llm"
	"github.com/c360studio/docwriter/llm/testutil"
	"github.com/c360studio/docwriter/model"
)

// stubRenderer renders fixed bytes, or fails every call when set.
type stubRenderer struct {
	fail  error
	calls int
}

func (r *stubRenderer) RenderPNG(_ context.Context, source string) ([]byte, error) {
	r.calls++
	if r.fail != nil {
		return nil, r.fail
	}
	return []byte("png:" + source[:20]), nil
}

func (r *stubRenderer) RenderSVG(_ context.Context, source string) ([]byte, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	return []byte("svg"), nil
}

const diagramDraft = draftS1 + "\n\n```plantuml\n@startuml\nA -> B: hello\n@enduml\n```\n"

func diagramHarness(t *testing.T) (*harness, *stubRenderer) {
	t.Helper()
	mock := &testutil.MockClient{ByRole: map[model.Role][]*llm.Response{
		model.RoleWriter: {jsonResp("@startuml\nC -> D: generated flow\n@enduml")},
	}}
	h := newHarness(t, mock, docjob.JobParams{Topic: "t"})
	renderer := &stubRenderer{}
	h.deps.Renderer = renderer

	ctx := context.Background()
	paths := h.paths()
	plan := &docjob.Plan{
		Title:    "Doc",
		Sections: []docjob.Section{{ID: "S1"}, {ID: "S2", DependsOn: []string{"S1"}}},
		DiagramSpecs: []docjob.DiagramSpec{
			{Name: "system-overview", Kind: "component", SectionID: "S2", Brief: "how it fits together"},
		},
	}
	require.NoError(t, putJSON(ctx, h.objects, paths.Plan(), plan))
	require.NoError(t, h.objects.Put(ctx, paths.Draft("S1"), []byte(export.WrapSection("S1", diagramDraft))))
	require.NoError(t, h.objects.Put(ctx, paths.Draft("S2"), []byte(export.WrapSection("S2", draftS2))))
	return h, renderer
}

func TestDiagramPrepCollectsDraftAndSpecDiagrams(t *testing.T) {
	ctx := context.Background()
	h, _ := diagramHarness(t)

	msg := &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	}
	res, err := DiagramPrep(ctx, h.deps, msg)
	require.NoError(t, err)

	var manifest diagram.Manifest
	require.NoError(t, getJSON(ctx, h.objects, h.paths().DiagramIndex(), &manifest))
	require.Len(t, manifest.Diagrams, 2)
	assert.Equal(t, "S1-diagram-1", manifest.Diagrams[0].Name)
	assert.Equal(t, "system-overview", manifest.Diagrams[1].Name)
	assert.True(t, manifest.Diagrams[1].FromSpec)

	require.Len(t, res.Next, 2)
	for _, e := range res.Next {
		assert.Equal(t, QueueFor(docjob.StageDiagramRender), e.Queue)
		assert.NotEmpty(t, e.Msg.Input("diagram"))
	}

	for _, entry := range manifest.Diagrams {
		src, err := h.objects.Get(ctx, entry.SourceKey)
		require.NoError(t, err)
		assert.Contains(t, string(src), "@startuml")
	}
}

func TestDiagramPrepZeroDiagramsGoesStraightToFinalize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &testutil.MockClient{}, docjob.JobParams{Topic: "t"})
	paths := h.paths()
	plan := &docjob.Plan{Title: "Doc", Sections: []docjob.Section{{ID: "S1"}}}
	require.NoError(t, putJSON(ctx, h.objects, paths.Plan(), plan))
	require.NoError(t, h.objects.Put(ctx, paths.Draft("S1"), []byte(export.WrapSection("S1", draftS1))))

	msg := &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	}
	res, err := DiagramPrep(ctx, h.deps, msg)
	require.NoError(t, err)
	require.Len(t, res.Next, 1)
	assert.Equal(t, QueueFor(docjob.StageFinalize), res.Next[0].Queue)
}

func TestDiagramRenderFanInEnqueuesFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	h, renderer := diagramHarness(t)

	prep, err := DiagramPrep(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	})
	require.NoError(t, err)
	require.Len(t, prep.Next, 2)

	finalizes := 0
	for _, e := range prep.Next {
		msg := e.Msg
		res, err := DiagramRender(ctx, h.deps, &msg)
		require.NoError(t, err)
		for _, n := range res.Next {
			if n.Queue == QueueFor(docjob.StageFinalize) {
				finalizes++
			}
		}
	}
	assert.Equal(t, 1, finalizes, "finalize must be kicked off exactly once")
	assert.Equal(t, 2, renderer.calls)

	var manifest diagram.Manifest
	require.NoError(t, getJSON(ctx, h.objects, h.paths().DiagramIndex(), &manifest))
	for _, entry := range manifest.Diagrams {
		ok, err := h.objects.Exists(ctx, entry.PNGKey)
		require.NoError(t, err)
		assert.True(t, ok, "missing PNG for %s", entry.Name)
	}
}

func TestDiagramRenderRejectedSourceStillCounts(t *testing.T) {
	ctx := context.Background()
	h, renderer := diagramHarness(t)
	renderer.fail = llm.NewFatalError(errors.New("syntax error in source"))

	prep, err := DiagramPrep(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	})
	require.NoError(t, err)

	finalizes := 0
	for _, e := range prep.Next {
		msg := e.Msg
		res, err := DiagramRender(ctx, h.deps, &msg)
		require.NoError(t, err, "rejected source must not fail the stage")
		for _, n := range res.Next {
			if n.Queue == QueueFor(docjob.StageFinalize) {
				finalizes++
			}
		}
	}
	assert.Equal(t, 1, finalizes)

	// No PNGs stored, and finalize must then drop the image references.
	var manifest diagram.Manifest
	require.NoError(t, getJSON(ctx, h.objects, h.paths().DiagramIndex(), &manifest))
	for _, entry := range manifest.Diagrams {
		ok, err := h.objects.Exists(ctx, entry.PNGKey)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	fin, err := Finalize(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageFinalize,
	})
	require.NoError(t, err)
	final, err := h.objects.Get(ctx, h.paths().FinalMarkdown())
	require.NoError(t, err)
	assert.NotContains(t, string(final), "](../diagrams/", "broken image reference in final document")
	assert.NotContains(t, fin.Details.Artifacts, h.paths().DiagramArchive())
}

func TestDiagramRenderTransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	h, renderer := diagramHarness(t)

	_, err := DiagramPrep(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	})
	require.NoError(t, err)

	msg := &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID,
		Stage:  docjob.StageDiagramRender,
		Inputs: map[string]string{"diagram": "S1-diagram-1"},
	}

	renderer.fail = llm.NewTransientError(errors.New("render server overloaded"))
	_, err = DiagramRender(ctx, h.deps, msg)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	renderer.fail = nil
	_, err = DiagramRender(ctx, h.deps, msg)
	require.NoError(t, err)
	ok, err := h.objects.Exists(ctx, h.paths().DiagramPNG("S1-diagram-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinalizeEmitsCompletionEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &testutil.MockClient{}, docjob.JobParams{Topic: "t"})
	paths := h.paths()
	plan := &docjob.Plan{Title: "Async Patterns", Sections: []docjob.Section{{ID: "S1"}}}
	require.NoError(t, putJSON(ctx, h.objects, paths.Plan(), plan))
	require.NoError(t, h.objects.Put(ctx, paths.Draft("S1"), []byte(export.WrapSection("S1", draftS1))))
	require.NoError(t, putJSON(ctx, h.objects, paths.DiagramIndex(), &diagram.Manifest{}))

	res, err := Finalize(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageFinalize,
	})
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, docjob.PhaseFinalizeDone, ev.Phase)
	assert.Equal(t, "Async Patterns", ev.Details.Title)
	assert.Contains(t, ev.Details.Artifacts, paths.FinalMarkdown())

	// Markdown always present; PDF/DOCX skipped without a converter.
	assert.NotContains(t, res.Details.Artifacts, paths.FinalPDF())
	assert.NotContains(t, res.Details.Artifacts, paths.FinalDOCX())
}

// fixedConverter returns canned bytes for both formats.
type fixedConverter struct{}

func (fixedConverter) ToPDF(context.Context, []byte) ([]byte, error)  { return []byte("%PDF"), nil }
func (fixedConverter) ToDOCX(context.Context, []byte) ([]byte, error) { return []byte("PK"), nil }

func TestFinalizeWithConverterStoresAllFormats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &testutil.MockClient{}, docjob.JobParams{Topic: "t"})
	h.deps.Converter = fixedConverter{}
	paths := h.paths()
	plan := &docjob.Plan{Title: "Doc", Sections: []docjob.Section{{ID: "S1"}}}
	require.NoError(t, putJSON(ctx, h.objects, paths.Plan(), plan))
	require.NoError(t, h.objects.Put(ctx, paths.Draft("S1"), []byte(export.WrapSection("S1", draftS1))))
	require.NoError(t, putJSON(ctx, h.objects, paths.DiagramIndex(), &diagram.Manifest{}))

	res, err := Finalize(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageFinalize,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Details.Artifacts, paths.FinalPDF())
	assert.Contains(t, res.Details.Artifacts, paths.FinalDOCX())
	for _, key := range []string{paths.FinalPDF(), paths.FinalDOCX()} {
		ok, err := h.objects.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "missing %s", key)
	}
}

func TestDiagramRenderUnknownDiagramIsPermanent(t *testing.T) {
	ctx := context.Background()
	h, _ := diagramHarness(t)
	_, err := DiagramPrep(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID, Stage: docjob.StageDiagramPrep,
	})
	require.NoError(t, err)

	_, err = DiagramRender(ctx, h.deps, &docjob.StageMessage{
		JobID: h.job.ID, OwnerID: h.job.OwnerID,
		Stage:  docjob.StageDiagramRender,
		Inputs: map[string]string{"diagram": "no-such-diagram"},
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err), fmt.Sprintf("got %v", err))
}
