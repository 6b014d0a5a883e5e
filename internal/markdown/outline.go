// Package markdown maps markdown course notes to their header hierarchy so
// chunks can carry the section they came from.
package markdown

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Section is a heading and the byte offset of the line it starts on.
type Section struct {
	HeaderPath string // Hierarchy: "# Derivatives > ## Chain Rule"
	Start      int
}

// Outliner extracts the header outline of markdown documents.
type Outliner struct {
	parser   goldmark.Markdown
	maxDepth int
}

// NewOutliner creates an outliner that tracks headings up to H3.
func NewOutliner() *Outliner {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Outliner{
		parser:   md,
		maxDepth: 3,
	}
}

// Outline returns the document's sections ordered by position.
// A document without headings has an empty outline.
func (o *Outliner) Outline(source []byte) ([]Section, error) {
	doc := o.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(o.maxDepth),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	headings := headingsByID(doc)
	var sections []Section
	collectSections(source, headings, tree.Items, nil, &sections)

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Start < sections[j].Start
	})
	return sections, nil
}

// HeaderPathAt returns the header path of the section containing offset.
// Text before the first heading has an empty path.
func HeaderPathAt(sections []Section, offset int) string {
	i := sort.Search(len(sections), func(i int) bool {
		return sections[i].Start > offset
	})
	if i == 0 {
		return ""
	}
	return sections[i-1].HeaderPath
}

// collectSections walks TOC items depth first, building header paths.
func collectSections(source []byte, headings map[string]*ast.Heading, items toc.Items, ancestors []string, out *[]Section) {
	for _, item := range items {
		path := append(ancestors[:len(ancestors):len(ancestors)], string(item.Title))

		if heading, ok := headings[string(item.ID)]; ok && heading.Lines().Len() > 0 {
			*out = append(*out, Section{
				HeaderPath: formatHeaderPath(path),
				Start:      lineStart(source, heading.Lines().At(0).Start),
			})
		}

		if len(item.Items) > 0 {
			collectSections(source, headings, item.Items, path, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Derivatives", "Chain Rule"] -> "# Derivatives > ## Chain Rule"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

// headingsByID indexes heading nodes by their auto-generated ID.
func headingsByID(doc ast.Node) map[string]*ast.Heading {
	headings := make(map[string]*ast.Heading)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if id, ok := heading.AttributeString("id"); ok {
			if b, ok := id.([]byte); ok {
				headings[string(b)] = heading
			}
		}
		return ast.WalkContinue, nil
	})
	return headings
}

// lineStart moves offset back to the beginning of its line.
func lineStart(source []byte, offset int) int {
	for offset > 0 && source[offset-1] != '\n' {
		offset--
	}
	return offset
}
