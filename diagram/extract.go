// Package diagram handles PlantUML diagrams: extracting sources from
// drafts, normalizing them, rendering them through a PlantUML server, and
// the manifest tying sources to rendered images.
package diagram

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// fencedPattern matches ```plantuml code blocks in a draft.
	fencedPattern = regexp.MustCompile("(?s)```plantuml\\s*\\n(.*?)```")
	// inlinePattern matches bare @startuml blocks outside code fences.
	inlinePattern = regexp.MustCompile(`(?s)@startuml.*?@enduml`)
)

// Extracted is one diagram source found in a section draft.
type Extracted struct {
	Name      string
	SectionID string
	Source    string
}

// ExtractFromDraft finds PlantUML sources in a section draft: fenced
// ```plantuml blocks first, then bare @startuml blocks not already
// captured by a fence. Names are deterministic per section so re-running
// extraction converges on the same artifact keys.
func ExtractFromDraft(sectionID, markdown string) []Extracted {
	var out []Extracted
	seen := make(map[string]bool)

	for _, m := range fencedPattern.FindAllStringSubmatch(markdown, -1) {
		src := Normalize(m[1])
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, Extracted{
			Name:      fmt.Sprintf("%s-diagram-%d", sectionID, len(out)+1),
			SectionID: sectionID,
			Source:    src,
		})
	}

	stripped := fencedPattern.ReplaceAllString(markdown, "")
	for _, m := range inlinePattern.FindAllString(stripped, -1) {
		src := Normalize(m)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, Extracted{
			Name:      fmt.Sprintf("%s-diagram-%d", sectionID, len(out)+1),
			SectionID: sectionID,
			Source:    src,
		})
	}
	return out
}

// Normalize cleans a PlantUML source for rendering: CRLF to LF, literal
// "\n" escapes unescaped, and @startuml/@enduml wrappers ensured. Model
// output frequently arrives with any of these defects.
func Normalize(source string) string {
	s := strings.ReplaceAll(source, "\r\n", "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "@startuml") {
		s = "@startuml\n" + s
	}
	if !strings.HasSuffix(s, "@enduml") {
		s = s + "\n@enduml"
	}
	return s
}

// ManifestEntry ties one diagram's source to its rendered image keys.
type ManifestEntry struct {
	Name      string `json:"name"`
	SectionID string `json:"section_id,omitempty"`
	SourceKey string `json:"source_key"`
	PNGKey    string `json:"png_key"`
	SVGKey    string `json:"svg_key,omitempty"`
	FromSpec  bool   `json:"from_spec,omitempty"`
}

// Manifest is the diagrams/index.json artifact written by diagram-prep.
type Manifest struct {
	Diagrams []ManifestEntry `json:"diagrams"`
}

// Entry returns the manifest entry by name, or nil.
func (m *Manifest) Entry(name string) *ManifestEntry {
	for i := range m.Diagrams {
		if m.Diagrams[i].Name == name {
			return &m.Diagrams[i]
		}
	}
	return nil
}
