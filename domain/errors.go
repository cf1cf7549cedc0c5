// Package domain holds the records shared by the ingestion and answer paths
// and the error taxonomy callers match with errors.Is.
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when startup configuration is unusable,
	// most commonly a missing API credential.
	ErrConfiguration = errors.New("configuration error")

	// ErrIndexUnavailable is returned when the persisted index cannot be opened.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrEmbeddingService is returned when the embedding service fails or answers with malformed output.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrSourceFetch marks a single document that could not be loaded.
	ErrSourceFetch = errors.New("source fetch failed")

	// ErrEmptyCorpus is returned when an ingestion run produced no documents.
	ErrEmptyCorpus = errors.New("no documents loaded from any source")

	// ErrGeneration is returned when the language model call fails.
	ErrGeneration = errors.New("language model error")

	// ErrEmptyQuery is returned for blank questions.
	ErrEmptyQuery = errors.New("question cannot be empty")
)

// SourceError records a per-document failure during loading.
type SourceError struct {
	Source string
	Err    error
}

// NewSourceError wraps err for the given source.
func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceFetch, e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceFetch, e.Err}
}
