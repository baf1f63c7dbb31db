package converter

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
)

// HTMLConverter is the second converter backend, making the library
// ingest more than PDFs. It extracts the main article with
// go-readability and renders it to markdown with html-to-markdown, the same
// pairing the rest of this stack uses for web content.
type HTMLConverter struct{}

func (HTMLConverter) Supports(fileType string) bool {
	ft := strings.ToLower(fileType)
	return ft == "html" || ft == "htm"
}

func (HTMLConverter) Extensions() []string { return []string{"html", "htm"} }

func (HTMLConverter) Convert(ctx context.Context, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read html %s: %w", path, err)
	}
	if len(data) == 0 {
		return Document{}, fmt.Errorf("empty file")
	}

	base, _ := url.Parse("file://" + path)
	title := ""
	html := string(data)
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		html = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, err := htmltomarkdown.ConvertString(html, converter.WithDomain(""))
	if err != nil {
		return Document{}, fmt.Errorf("html to markdown: %w", err)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return Document{
		SchemaVersion: 1,
		Markdown:      strings.TrimSpace(md),
		Title:         title,
		Language:      "en",
	}, nil
}

func (HTMLConverter) ConvertMarkdown(ctx context.Context, markdown string) (Document, error) {
	return Document{SchemaVersion: 1, Markdown: markdown}, nil
}
