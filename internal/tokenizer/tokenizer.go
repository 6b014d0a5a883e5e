// Package tokenizer provides the token model shared by chunking and prompt budgeting.
//
// A token is a maximal run of non-whitespace characters. This keeps words and
// compact formulas such as "x**2" intact, and makes every token boundary a safe
// place to split text.
package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// Span is a token located by byte offsets into the source text.
type Span struct {
	Start int // inclusive byte offset
	End   int // exclusive byte offset
}

// Tokenize returns the token spans of text in order.
func Tokenize(text string) []Span {
	var spans []Span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, Span{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

// Count returns the number of tokens in text.
func Count(text string) int {
	n := 0
	inToken := false
	for len(text) > 0 {
		r, size := utf8.DecodeRuneInString(text)
		text = text[size:]
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			n++
			inToken = true
		}
	}
	return n
}
