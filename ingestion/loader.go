package ingestion

import (
	"context"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

// Loader produces document records from one corpus source. Per-document
// problems are reported in LoadResult.Failures; a returned error aborts the run.
type Loader interface {
	Name() string
	Load(ctx context.Context) (LoadResult, error)
}

type LoadResult struct {
	Records  []domain.Record
	Failures []*domain.SourceError
}
