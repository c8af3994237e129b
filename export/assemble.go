package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/docwriter/diagram"
	"github.com/c360studio/docwriter/docjob"
)

var (
	plantumlFencePattern = regexp.MustCompile("(?s)```plantuml\\s*\\n.*?```")
	plantumlBarePattern  = regexp.MustCompile(`(?s)@startuml.*?@enduml`)
	headingPattern       = regexp.MustCompile(`^(#{2,4})\s+(.*)$`)
)

// Assembler builds the final markdown document.
type Assembler struct {
	// DiagramPathPrefix is prepended to image references. final.md
	// lives in final/, so images resolve one level up by default.
	DiagramPathPrefix string
}

// NewAssembler returns an assembler with the default layout.
func NewAssembler() *Assembler {
	return &Assembler{DiagramPathPrefix: "../diagrams/"}
}

// Assemble produces the final document: title page, table of contents,
// then every section in plan order with hierarchical heading numbering
// and PlantUML blocks replaced by rendered image references.
func (a *Assembler) Assemble(plan *docjob.Plan, drafts map[string]string, manifest *diagram.Manifest) (string, error) {
	var body strings.Builder

	for i, sec := range plan.Sections {
		draft, ok := drafts[sec.ID]
		if !ok {
			return "", fmt.Errorf("missing draft for section %q", sec.ID)
		}
		text := UnwrapSection(sec.ID, draft)
		text = a.substituteDiagrams(text, sec.ID, manifest)

		body.WriteString(fmt.Sprintf("## %s\n\n", sec.Title))
		body.WriteString(strings.TrimSpace(text))
		if i < len(plan.Sections)-1 {
			body.WriteString("\n\n")
		}
	}

	numbered := numberHeadings(body.String())
	toc := buildTOC(numbered)

	var doc strings.Builder
	doc.WriteString(titlePage(plan))
	doc.WriteString("\n## Contents\n\n")
	doc.WriteString(toc)
	doc.WriteString("\n")
	doc.WriteString(numbered)
	doc.WriteString("\n")
	return doc.String(), nil
}

func titlePage(plan *docjob.Plan) string {
	var b strings.Builder
	b.WriteString("# " + plan.Title + "\n")
	if plan.GlobalStyle.Tone != "" {
		b.WriteString("\n*" + plan.GlobalStyle.Tone + "*\n")
	}
	b.WriteString("\n---\n")
	return b.String()
}

// substituteDiagrams replaces the section's PlantUML blocks with image
// references, matching manifest entries to blocks in document order.
func (a *Assembler) substituteDiagrams(text, sectionID string, manifest *diagram.Manifest) string {
	if manifest == nil {
		return text
	}
	var entries []diagram.ManifestEntry
	for _, e := range manifest.Diagrams {
		if e.SectionID == sectionID {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return text
	}

	next := 0
	imageRef := func(string) string {
		if next >= len(entries) {
			return "" // more blocks than rendered diagrams: drop the source
		}
		e := entries[next]
		next++
		return fmt.Sprintf("![%s](%s%s.png)", e.Name, a.DiagramPathPrefix, e.Name)
	}

	text = plantumlFencePattern.ReplaceAllStringFunc(text, imageRef)
	return plantumlBarePattern.ReplaceAllStringFunc(text, imageRef)
}

// numberHeadings applies hierarchical numbering to ##/###/#### headings,
// skipping fenced code blocks.
func numberHeadings(doc string) string {
	lines := strings.Split(doc, "\n")
	counters := [3]int{} // levels 2..4
	inFence := false

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1]) - 2 // 0-based within counters
		counters[level]++
		for j := level + 1; j < len(counters); j++ {
			counters[j] = 0
		}

		var parts []string
		for j := 0; j <= level; j++ {
			parts = append(parts, fmt.Sprintf("%d", counters[j]))
		}
		lines[i] = fmt.Sprintf("%s %s. %s", m[1], strings.Join(parts, "."), m[2])
	}
	return strings.Join(lines, "\n")
}

// buildTOC lists the numbered ## and ### headings with indentation.
func buildTOC(doc string) string {
	var b strings.Builder
	inFence := false
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingPattern.FindStringSubmatch(line)
		if m == nil || len(m[1]) > 3 {
			continue
		}
		indent := strings.Repeat("  ", len(m[1])-2)
		b.WriteString(indent + "- " + m[2] + "\n")
	}
	return b.String()
}
