package cli

import (
	"errors"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

// describeError adds an operator hint to the errors a command can end with.
func describeError(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return msg + "\nhint: check gxa.yaml, the GXA_* variables and keys.env (GEMINI_API_KEY)"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return msg + "\nhint: build the index with `gxa ingest` (PDF manuals) or `gxa crawl` (web articles)"
	case errors.Is(err, domain.ErrEmptyCorpus):
		return msg + "\nhint: put PDF files in corpus.dir or check the crawl settings; the existing index was left untouched"
	case errors.Is(err, domain.ErrEmbeddingService):
		return msg + "\nhint: the embedding service failed; check the credential, quota and network, then retry"
	case errors.Is(err, domain.ErrGeneration):
		return msg + "\nhint: the language model failed; check the credential, quota and network, then retry"
	case errors.Is(err, domain.ErrEmptyQuery):
		return msg + "\nhint: pass a non-empty --question"
	default:
		return msg
	}
}
