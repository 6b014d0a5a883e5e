// Package extract turns course material files into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for anything other than pdf, txt or md.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Format is a supported source document format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

// ParseFormat normalizes a format name such as "PDF" or ".md".
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(name, "."))); f {
	case FormatPDF, FormatText, FormatMarkdown:
		return f, nil
	case "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
	}
	return ParseFormat(ext)
}

// Extract reads the file at path and returns its text. PDF pages are prefixed
// with "--- Page N ---" markers.
func Extract(path string, format Format) (string, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return ExtractBytes(path, data, format)
}

// ExtractBytes extracts text from in-memory content. name is used in errors only.
func ExtractBytes(name string, data []byte, format Format) (string, error) {
	switch format {
	case FormatText, FormatMarkdown:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s is not UTF-8 text", name)
		}
		return string(data), nil
	case FormatPDF:
		text, err := extractPDF(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("extract pdf %s: %w", name, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func extractPDF(r io.ReaderAt, size int64) (text string, err error) {
	// The pdf reader panics on some malformed streams.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		fmt.Fprintf(&sb, "\n--- Page %d ---\n", i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
