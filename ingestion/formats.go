// Package ingestion loads corpus documents, segments them and writes the
// embedded chunks to the vector index.
package ingestion

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates the payload formats the loaders recognise.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatHTML represents fetched web pages.
	FormatHTML DocumentFormat = "html"
)

// DetectFormat infers a document format from a file path or URL.
func DetectFormat(path string) DocumentFormat {
	if isWebSource(path) {
		return FormatHTML
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatUnknown
	}
}

// SourceKind labels an indexed source for diagnostics.
type SourceKind string

const (
	SourceWeb   SourceKind = "WEB ARTICLE"
	SourcePDF   SourceKind = "LOCAL PDF"
	SourceOther SourceKind = "OTHER"
)

// ClassifySource reports where an index entry came from.
func ClassifySource(source string) SourceKind {
	switch DetectFormat(source) {
	case FormatPDF:
		return SourcePDF
	case FormatHTML:
		if isWebSource(source) {
			return SourceWeb
		}
		return SourceOther
	default:
		return SourceOther
	}
}

func isWebSource(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
