package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PDFConverter is the adapter point for the external PDF-to-structured-
// document collaborator. Its built-in extraction is a deterministic stub
// (paragraph-split on form-feed and blank-line boundaries); swap Extract
// for a real PDF library without touching any caller.
type PDFConverter struct {
	// Extract, if set, overrides the stub extraction (e.g. with a real PDF
	// text-extraction library). Returns the document's plain-text body.
	Extract func(path string) (string, error)
}

func (PDFConverter) Supports(fileType string) bool {
	return strings.ToLower(fileType) == "pdf"
}

func (PDFConverter) Extensions() []string { return []string{"pdf"} }

func (c PDFConverter) Convert(ctx context.Context, path string) (Document, error) {
	var body string
	var err error
	if c.Extract != nil {
		body, err = c.Extract(path)
	} else {
		body, err = stubExtract(path)
	}
	if err != nil {
		return Document{}, fmt.Errorf("pdf convert %s: %w", path, err)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if h := firstHeadingLike(body); h != "" {
		title = h
	}

	return Document{
		SchemaVersion: 1,
		Markdown:      toMarkdown(body),
		Title:         title,
		Language:      "en",
	}, nil
}

func (c PDFConverter) ConvertMarkdown(ctx context.Context, markdown string) (Document, error) {
	return Document{SchemaVersion: 1, Markdown: markdown}, nil
}

func stubExtract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty file")
	}
	return string(data), nil
}

// firstHeadingLike returns the first non-empty line if it is at most 120
// bytes long, else "". Only the length is checked, not punctuation.
func firstHeadingLike(body string) string {
	for _, ln := range strings.Split(body, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		if len(ln) <= 120 {
			return ln
		}
		return ""
	}
	return ""
}

// toMarkdown splits on form-feed (page breaks) and blank lines into
// paragraphs, matching the markdown export shape the chunk worker expects.
func toMarkdown(body string) string {
	pages := strings.Split(body, "\f")
	var out []string
	for _, p := range pages {
		out = append(out, strings.TrimSpace(p))
	}
	return strings.Join(out, "\n\n")
}
