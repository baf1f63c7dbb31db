// Package converter defines the document converter interface the extract
// stage invokes, plus the registry that makes the library scan extensible
// to additional file types beyond PDF.
package converter

import (
	"context"
	"strings"
	"time"
)

// Document is the neutral, versioned serialization schema both the extract
// and chunk stages pin to. It is
// the structured-document representation carried as Chunk Job's
// document_serialized field.
type Document struct {
	SchemaVersion int
	Markdown      string
	Title         string
	Author        string
	Subject       string
	Keywords      string
	Creator       string
	Producer      string
	CreationDate  *time.Time
	ModifiedDate  *time.Time
	Language      string
}

// ToMap serializes a Document to a portable dict form that round-trips
// losslessly across the queue.
func (d Document) ToMap() map[string]any {
	m := map[string]any{
		"schema_version": d.SchemaVersion,
		"markdown":       d.Markdown,
		"title":          d.Title,
		"author":         d.Author,
		"subject":        d.Subject,
		"keywords":       d.Keywords,
		"creator":        d.Creator,
		"producer":       d.Producer,
		"language":       d.Language,
	}
	if d.CreationDate != nil {
		m["creation_date"] = d.CreationDate.Format(time.RFC3339)
	}
	if d.ModifiedDate != nil {
		m["modified_date"] = d.ModifiedDate.Format(time.RFC3339)
	}
	return m
}

// FromMap deserializes a Document previously produced by ToMap. The chunk
// stage calls this instead of re-invoking the converter.
func FromMap(m map[string]any) Document {
	d := Document{SchemaVersion: 1}
	switch v := m["schema_version"].(type) {
	case int:
		d.SchemaVersion = v
	case float64:
		d.SchemaVersion = int(v)
	}
	if v, ok := m["markdown"].(string); ok {
		d.Markdown = v
	}
	if v, ok := m["title"].(string); ok {
		d.Title = v
	}
	if v, ok := m["author"].(string); ok {
		d.Author = v
	}
	if v, ok := m["subject"].(string); ok {
		d.Subject = v
	}
	if v, ok := m["keywords"].(string); ok {
		d.Keywords = v
	}
	if v, ok := m["creator"].(string); ok {
		d.Creator = v
	}
	if v, ok := m["producer"].(string); ok {
		d.Producer = v
	}
	if v, ok := m["language"].(string); ok {
		d.Language = v
	}
	if v, ok := m["creation_date"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.CreationDate = &t
		}
	}
	if v, ok := m["modified_date"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.ModifiedDate = &t
		}
	}
	return d
}

// Converter is the external collaborator the extract worker invokes
//. Supports reports whether this converter handles a
// given lowercase file extension (without the leading dot).
type Converter interface {
	Supports(fileType string) bool
	Extensions() []string
	Convert(ctx context.Context, path string) (Document, error)
	ConvertMarkdown(ctx context.Context, markdown string) (Document, error)
}

// Registry resolves a Converter by file extension, making the library scan
// extensible beyond PDF.
type Registry struct {
	converters []Converter
}

// NewRegistry builds a registry from the given converters, tried in order.
func NewRegistry(converters ...Converter) *Registry {
	return &Registry{converters: converters}
}

// For returns the first registered converter that supports fileType.
func (r *Registry) For(fileType string) (Converter, bool) {
	ft := strings.ToLower(strings.TrimPrefix(fileType, "."))
	for _, c := range r.converters {
		if c.Supports(ft) {
			return c, true
		}
	}
	return nil, false
}

// Extensions returns every extension any registered converter supports,
// used by the manager's library scan to decide which files are eligible.
func (r *Registry) Extensions() []string {
	var out []string
	for _, c := range r.converters {
		out = append(out, c.Extensions()...)
	}
	return out
}
