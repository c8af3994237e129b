// Package export assembles the final document from section drafts: section
// marker handling, heading numbering, table of contents, diagram
// substitution, format conversion, and the diagram archive.
package export

import (
	"fmt"
	"strings"
)

// Section markers wrap every draft so rewrites can splice a single
// section without disturbing its neighbors.
const (
	markerStartFmt = "<!-- SECTION:%s:START -->"
	markerEndFmt   = "<!-- SECTION:%s:END -->"
)

// WrapSection wraps a section body in its markers.
func WrapSection(sectionID, body string) string {
	return fmt.Sprintf(markerStartFmt, sectionID) + "\n" +
		strings.TrimRight(body, "\n") + "\n" +
		fmt.Sprintf(markerEndFmt, sectionID) + "\n"
}

// UnwrapSection returns the body inside the section's markers. Content
// without markers is returned unchanged.
func UnwrapSection(sectionID, content string) string {
	start := fmt.Sprintf(markerStartFmt, sectionID)
	end := fmt.Sprintf(markerEndFmt, sectionID)

	si := strings.Index(content, start)
	ei := strings.Index(content, end)
	if si < 0 || ei < 0 || ei < si {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(content[si+len(start) : ei])
}

// placeholderPatterns catch drafts where the model stalled instead of
// writing: these force a rewrite regardless of review findings.
var placeholderPatterns = []string{
	"placeholder",
	"content unchanged",
	"to be written",
	"tbd",
	"lorem ipsum",
}

// minSectionChars is the floor below which a draft counts as empty.
const minSectionChars = 40

// IsPlaceholder reports whether a draft body is a stall artifact rather
// than real content.
func IsPlaceholder(body string) bool {
	text := strings.TrimSpace(body)
	if len(text) < minSectionChars {
		return true
	}
	// Only short bodies dominated by a stall phrase count; a real
	// section may legitimately mention "placeholder".
	if len(text) < 400 {
		lower := strings.ToLower(text)
		for _, p := range placeholderPatterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}
	return false
}
