package domain

import "fmt"

// Metadata keys set by the loaders.
const (
	MetaSource = "source"
	MetaPage   = "page"
	MetaTitle  = "title"
)

// Record is one loaded document: a PDF page or a fetched article.
type Record struct {
	Content  string
	Metadata map[string]any
}

// Source returns the origin identifier of the record.
func (r Record) Source() string {
	return SourceOf(r.Metadata)
}

// Chunk is a bounded slice of a record's text. Offset is the byte offset of
// Text inside the parent record's content.
type Chunk struct {
	Text     string
	Index    int
	Offset   int
	Metadata map[string]any
}

// SourceOf reads the source key from metadata.
func SourceOf(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	switch v := meta[MetaSource].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// CloneMetadata returns a shallow copy so chunks never share a map with their record.
func CloneMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
