// Package extract provides the in-tree text extraction adapter. Binary
// formats (PDF, DOCX) are handled by an external extraction service that
// implements the same contract; this adapter covers plain-text uploads.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// PlainText implements contracts.TextExtractor for .txt and .md files.
type PlainText struct{}

// NewPlainText creates the plain-text extractor.
func NewPlainText() *PlainText { return &PlainText{} }

// Extract returns the normalized text of the document: UTF-8 validated,
// CRLF collapsed to LF, BOM stripped.
func (e *PlainText) Extract(_ context.Context, filename string, raw []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt", ".md", "":
	default:
		return "", fmt.Errorf("unsupported document format %q (binary formats require the external extraction service)", ext)
	}

	if !utf8.Valid(raw) {
		return "", fmt.Errorf("document %s is not valid UTF-8 text", filename)
	}

	text := string(raw)
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("document %s is empty", filename)
	}
	return text, nil
}
