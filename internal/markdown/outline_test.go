package markdown

import (
	"strings"
	"testing"
)

// TestOutline_HeaderHierarchy tests header path formatting across levels.
func TestOutline_HeaderHierarchy(t *testing.T) {
	input := `# Derivatives

General info.

## Power Rule

Bring the exponent down.

### Examples

d/dx x**3 = 3*x**2

## Chain Rule

Differentiate the outside, then the inside.
`

	sections, err := NewOutliner().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	expectedPaths := []string{
		"# Derivatives",
		"# Derivatives > ## Power Rule",
		"# Derivatives > ## Power Rule > ### Examples",
		"# Derivatives > ## Chain Rule",
	}
	if len(sections) != len(expectedPaths) {
		t.Fatalf("Expected %d sections, got %d", len(expectedPaths), len(sections))
	}
	for i, expectedPath := range expectedPaths {
		if sections[i].HeaderPath != expectedPath {
			t.Errorf("Section %d HeaderPath: expected %q, got %q", i, expectedPath, sections[i].HeaderPath)
		}
	}
}

// TestOutline_StartsAtHeadingLine verifies offsets point at the '#' of each heading.
func TestOutline_StartsAtHeadingLine(t *testing.T) {
	input := "Intro before any heading.\n\n# Limits\n\nText.\n\n## One-sided limits\n\nMore text.\n"

	sections, err := NewOutliner().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(sections))
	}

	if want := strings.Index(input, "# Limits"); sections[0].Start != want {
		t.Errorf("Section 0 start: expected %d, got %d", want, sections[0].Start)
	}
	if want := strings.Index(input, "## One-sided"); sections[1].Start != want {
		t.Errorf("Section 1 start: expected %d, got %d", want, sections[1].Start)
	}
}

// TestOutline_NoHeaders returns an empty outline.
func TestOutline_NoHeaders(t *testing.T) {
	input := `This is a document with no headers.

Just plain text content.
`

	sections, err := NewOutliner().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if len(sections) != 0 {
		t.Errorf("Expected no sections, got %d", len(sections))
	}
	if got := HeaderPathAt(sections, 10); got != "" {
		t.Errorf("Expected empty header path, got %q", got)
	}
}

// TestOutline_MultipleH1s tests multiple top-level sections.
func TestOutline_MultipleH1s(t *testing.T) {
	input := `# First Section

First content.

## First Subsection

First subsection content.

# Second Section

Second content.
`

	sections, err := NewOutliner().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	expectedPaths := []string{
		"# First Section",
		"# First Section > ## First Subsection",
		"# Second Section",
	}
	if len(sections) != len(expectedPaths) {
		t.Fatalf("Expected %d sections, got %d", len(expectedPaths), len(sections))
	}
	for i, expectedPath := range expectedPaths {
		if sections[i].HeaderPath != expectedPath {
			t.Errorf("Section %d: expected path %q, got %q", i, expectedPath, sections[i].HeaderPath)
		}
	}
}

// TestHeaderPathAt maps offsets to the enclosing section.
func TestHeaderPathAt(t *testing.T) {
	input := "Preface.\n\n# Integrals\n\nArea under a curve.\n\n## By parts\n\nuv - integral of v du.\n"

	sections, err := NewOutliner().Outline([]byte(input))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}

	tests := []struct {
		needle string
		want   string
	}{
		{"Preface", ""},
		{"# Integrals", "# Integrals"},
		{"Area under", "# Integrals"},
		{"uv - integral", "# Integrals > ## By parts"},
	}
	for _, tt := range tests {
		offset := strings.Index(input, tt.needle)
		if got := HeaderPathAt(sections, offset); got != tt.want {
			t.Errorf("HeaderPathAt(%q): expected %q, got %q", tt.needle, tt.want, got)
		}
	}
}
