package export

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
)

func TestWrapUnwrapSection(t *testing.T) {
	wrapped := WrapSection("intro", "# Introduction\n\nBody text.")
	assert.Contains(t, wrapped, "<!-- SECTION:intro:START -->")
	assert.Contains(t, wrapped, "<!-- SECTION:intro:END -->")

	body := UnwrapSection("intro", wrapped)
	assert.Equal(t, "# Introduction\n\nBody text.", body)

	// Content without markers passes through.
	assert.Equal(t, "plain", UnwrapSection("intro", "plain"))
}

func TestIsPlaceholder(t *testing.T) {
	long := strings.Repeat("Real content about the system design. ", 20)
	assert.False(t, IsPlaceholder(long))
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("short"))
	assert.True(t, IsPlaceholder("This section is a placeholder for future content and will be expanded."))
	assert.True(t, IsPlaceholder("Content unchanged from the previous revision of this draft section here."))
	// A long real section mentioning the word is fine.
	assert.False(t, IsPlaceholder(long+" The placeholder pattern in templates is described."))
}

func TestAssembleOrderNumberingAndTOC(t *testing.T) {
	plan := &docjob.Plan{
		Title: "System Design",
		Sections: []docjob.Section{
			{ID: "intro", Title: "Introduction"},
			{ID: "arch", Title: "Architecture"},
		},
	}
	drafts := map[string]string{
		"intro": WrapSection("intro", "Opening prose.\n\n### Background\n\nHistory."),
		"arch":  WrapSection("arch", "Component overview."),
	}

	doc, err := NewAssembler().Assemble(plan, drafts, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "# System Design\n"))
	assert.Contains(t, doc, "## Contents")
	assert.Contains(t, doc, "## 1. Introduction")
	assert.Contains(t, doc, "### 1.1. Background")
	assert.Contains(t, doc, "## 2. Architecture")
	assert.Contains(t, doc, "- 1. Introduction")
	assert.Contains(t, doc, "  - 1.1. Background")
	assert.NotContains(t, doc, "SECTION:intro")

	// Section order follows the plan.
	assert.Less(t, strings.Index(doc, "## 1. Introduction"), strings.Index(doc, "## 2. Architecture"))
}

func TestAssembleMissingDraftFails(t *testing.T) {
	plan := &docjob.Plan{Title: "T", Sections: []docjob.Section{{ID: "a", Title: "A"}}}
	_, err := NewAssembler().Assemble(plan, map[string]string{}, nil)
	assert.ErrorContains(t, err, `missing draft for section "a"`)
}

func TestAssembleSubstitutesDiagrams(t *testing.T) {
	plan := &docjob.Plan{
		Title:    "T",
		Sections: []docjob.Section{{ID: "arch", Title: "Architecture"}},
	}
	drafts := map[string]string{
		"arch": "Before.\n\n```plantuml\n@startuml\nA -> B\n@enduml\n```\n\nAfter.",
	}
	manifest := &diagram.Manifest{Diagrams: []diagram.ManifestEntry{
		{Name: "arch-diagram-1", SectionID: "arch", PNGKey: "jobs/o/j/diagrams/arch-diagram-1.png"},
	}}

	doc, err := NewAssembler().Assemble(plan, drafts, manifest)
	require.NoError(t, err)
	assert.Contains(t, doc, "![arch-diagram-1](../diagrams/arch-diagram-1.png)")
	assert.NotContains(t, doc, "@startuml")
}

func TestNumberHeadingsSkipsCodeFences(t *testing.T) {
	doc := "## Real\n```\n## not a heading\n```\n## Also Real"
	numbered := numberHeadings(doc)
	assert.Contains(t, numbered, "## 1. Real")
	assert.Contains(t, numbered, "## 2. Also Real")
	assert.Contains(t, numbered, "## not a heading")
}

func TestBundleArchiveDeterministic(t *testing.T) {
	files := map[string][]byte{
		"b.puml": []byte("@startuml\n@enduml"),
		"a.png":  []byte{1, 2, 3},
	}

	data1, err := BundleArchive(files)
	require.NoError(t, err)
	data2, err := BundleArchive(files)
	require.NoError(t, err)
	assert.Equal(t, data1, data2)

	zr, err := zip.NewReader(bytes.NewReader(data1), int64(len(data1)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.png", zr.File[0].Name)
	assert.Equal(t, "b.puml", zr.File[1].Name)
}

func TestNoConverterIsUnavailable(t *testing.T) {
	_, err := NoConverter{}.ToPDF(context.Background(), []byte("# doc"))
	assert.ErrorIs(t, err, ErrConverterUnavailable)
	_, err = NoConverter{}.ToDOCX(context.Background(), []byte("# doc"))
	assert.ErrorIs(t, err, ErrConverterUnavailable)
}

func TestCommandConverterMissingBinary(t *testing.T) {
	c := NewCommandConverter("/nonexistent/pandoc")
	_, err := c.ToPDF(context.Background(), []byte("# doc"))
	assert.ErrorIs(t, err, ErrConverterUnavailable)

	_, err = NewCommandConverter("").ToDOCX(context.Background(), []byte("# doc"))
	assert.ErrorIs(t, err, ErrConverterUnavailable)
}
