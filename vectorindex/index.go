// Package vectorindex persists embedded chunks and answers nearest-neighbour
// queries. Entries are append-only; a rebuild replaces the whole index.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

// SchemaVersion is bumped whenever the persisted layout changes.
const SchemaVersion = "1"

// Entry is one stored chunk.
type Entry struct {
	ID       string
	Text     string
	Metadata map[string]any
	Vector   []float32
}

// Source returns the entry's origin identifier.
func (e Entry) Source() string {
	return domain.SourceOf(e.Metadata)
}

// Hit is a search result. Higher scores are more similar.
type Hit struct {
	Entry
	Score float64
}

type SourceCount struct {
	Source  string
	Entries int
}

// Index is an opened index.
type Index interface {
	// Upsert appends entries. Content is never deduplicated.
	Upsert(ctx context.Context, entries []Entry) error
	// Search returns at most k hits by descending score; ties keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Sources lists indexed sources in first-insertion order.
	Sources(ctx context.Context, limit int) ([]SourceCount, error)
	Close() error
}

// Builder stages a fresh index that replaces the current one on Commit.
type Builder interface {
	Index
	Commit(ctx context.Context) error
	Abort() error
}

// Store opens or rebuilds the persisted index.
type Store interface {
	// Open fails with domain.ErrIndexUnavailable when the index is missing,
	// corrupt, empty or was built with another embedding model.
	Open(ctx context.Context) (Index, error)
	Create(ctx context.Context) (Builder, error)
	// Reset deletes the persisted index.
	Reset(ctx context.Context) error
	Location() string
}

// Options pin the embedding model an index is bound to. A zero Dimension is
// learned from the first written vector.
type Options struct {
	Model     string
	Dimension int
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrIndexUnavailable, fmt.Sprintf(format, args...))
}

func checkVectors(entries []Entry, dimension int) (int, error) {
	for i, entry := range entries {
		if len(entry.Vector) == 0 {
			return dimension, fmt.Errorf("entry %d has an empty vector", i)
		}
		if dimension == 0 {
			dimension = len(entry.Vector)
		}
		if len(entry.Vector) != dimension {
			return dimension, fmt.Errorf("entry %d dimension mismatch: expected %d, got %d", i, dimension, len(entry.Vector))
		}
	}
	return dimension, nil
}

const (
	metaSchemaVersion = "schema_version"
	metaModel         = "embedding_model"
	metaDimension     = "dimension"
	metaCreatedAt     = "created_at"
)

// checkMeta validates persisted metadata against the configured model and
// returns the stored dimension.
func checkMeta(meta map[string]string, opts Options) (int, error) {
	if version := meta[metaSchemaVersion]; version != SchemaVersion {
		return 0, unavailable("index schema version %q, expected %q; rebuild the index", version, SchemaVersion)
	}
	model := meta[metaModel]
	if opts.Model != "" && model != opts.Model {
		return 0, unavailable("index was built with embedding model %q but %q is configured; run a full rebuild", model, opts.Model)
	}
	dimension := 0
	if raw := meta[metaDimension]; raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &dimension); err != nil {
			return 0, unavailable("invalid stored dimension %q", raw)
		}
	}
	if opts.Dimension > 0 && dimension > 0 && dimension != opts.Dimension {
		return 0, unavailable("index dimension %d does not match configured dimension %d", dimension, opts.Dimension)
	}
	return dimension, nil
}
