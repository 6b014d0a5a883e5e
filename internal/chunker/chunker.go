// Package chunker splits extracted course text into bounded, overlapping chunks.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bull/course-tutor/internal/tokenizer"
)

// ErrConfig reports invalid chunking parameters.
var ErrConfig = errors.New("invalid chunker configuration")

// Piece is one chunk of a document, in document order.
type Piece struct {
	Index      int    // Position in document (0, 1, 2...)
	Text       string // Original text between the first and last token, whitespace preserved
	Offset     int    // Byte offset of Text in the source
	TokenCount int
	StartToken int // Token offset of the first token (inclusive)
	EndToken   int // Token offset after the last token (exclusive)
}

// boundary ranks the gap before a token. Higher values are better split points.
type boundary int

const (
	boundaryNone boundary = iota
	boundaryLine
	boundarySentence
	boundaryParagraph
)

var splitLevels = []boundary{boundaryParagraph, boundarySentence, boundaryLine}

// Chunker produces chunks of at most maxTokens tokens where consecutive chunks
// share at least overlap tokens.
type Chunker struct {
	maxTokens int
	overlap   int
}

// New creates a chunker. overlap must be smaller than maxTokens.
func New(maxTokens, overlap int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive, got %d", ErrConfig, maxTokens)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrConfig, overlap)
	}
	if overlap >= maxTokens {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than max tokens (%d)", ErrConfig, overlap, maxTokens)
	}
	return &Chunker{maxTokens: maxTokens, overlap: overlap}, nil
}

// MaxTokens returns the configured chunk size.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Overlap returns the configured overlap floor.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into pieces. Empty or whitespace-only text yields no pieces.
// The result depends only on text and the chunker configuration.
func (c *Chunker) Chunk(text string) []Piece {
	spans := tokenizer.Tokenize(text)
	n := len(spans)
	if n == 0 {
		return nil
	}
	kinds := classifyGaps(text, spans)

	var pieces []Piece
	start := 0
	for {
		limit := start + c.maxTokens
		if limit >= n {
			pieces = append(pieces, c.piece(text, spans, len(pieces), start, n))
			return pieces
		}

		end := c.pickEnd(kinds, start, limit)
		pieces = append(pieces, c.piece(text, spans, len(pieces), start, end))
		start = c.nextStart(kinds, start, end)
	}
}

func (c *Chunker) piece(text string, spans []tokenizer.Span, index, start, end int) Piece {
	return Piece{
		Index:      index,
		Text:       text[spans[start].Start:spans[end-1].End],
		Offset:     spans[start].Start,
		TokenCount: end - start,
		StartToken: start,
		EndToken:   end,
	}
}

// pickEnd chooses the exclusive end token in (start+overlap, limit].
// Strong boundaries in the upper half of the window win, then any boundary,
// then a hard split at limit.
func (c *Chunker) pickEnd(kinds []boundary, start, limit int) int {
	lo := start + c.overlap + 1
	for _, floor := range []int{max(lo, start+c.maxTokens/2), lo} {
		for _, level := range splitLevels {
			for g := limit; g >= floor; g-- {
				if kinds[g] >= level {
					return g
				}
			}
		}
	}
	return limit
}

// nextStart steps back overlap tokens from end, then snaps to a sentence start
// if one lies within half an overlap before that point.
func (c *Chunker) nextStart(kinds []boundary, prevStart, end int) int {
	next := end - c.overlap
	lower := max(prevStart+1, next-c.overlap/2)
	for g := next; g >= lower; g-- {
		if kinds[g] >= boundarySentence {
			return g
		}
	}
	return next
}

// classifyGaps ranks the gap before every token. kinds[0] is unused.
func classifyGaps(text string, spans []tokenizer.Span) []boundary {
	kinds := make([]boundary, len(spans))
	for g := 1; g < len(spans); g++ {
		gap := text[spans[g-1].End:spans[g].Start]
		prev := text[spans[g-1].Start:spans[g-1].End]
		switch newlines := strings.Count(gap, "\n"); {
		case newlines >= 2:
			kinds[g] = boundaryParagraph
		case endsSentence(prev):
			kinds[g] = boundarySentence
		case newlines == 1:
			kinds[g] = boundaryLine
		}
	}
	return kinds
}

// endsSentence reports whether a token closes a sentence, allowing trailing
// closing quotes or brackets.
func endsSentence(token string) bool {
	trimmed := strings.TrimRight(token, `)"'”’]`)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
