package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/embeddings"
	"github.com/mukasc/genexus-ai-assistant/knowledge"
	"github.com/mukasc/genexus-ai-assistant/metrics"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

type Mode string

const (
	// ModeRebuild discards the existing index and builds a fresh one.
	ModeRebuild Mode = "rebuild"
	// ModeMerge appends to the existing index, or rebuilds when none can be opened.
	ModeMerge Mode = "merge"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeRebuild:
		return ModeRebuild, nil
	case ModeMerge:
		return ModeMerge, nil
	default:
		return "", fmt.Errorf("%w: unknown ingestion mode %q (want rebuild or merge)", domain.ErrConfiguration, value)
	}
}

// Catalog receives a summary of every successful run.
type Catalog interface {
	RecordRun(ctx context.Context, run knowledge.Run) error
}

type RunOptions struct {
	Mode    Mode
	Loaders []Loader
}

type IndexStats struct {
	// Mode is the mode actually applied; a merge may fall back to a rebuild.
	Mode          Mode
	Documents     int
	Failures      int
	FailedSources []string
	Chunks        int
	Added         int
	Total         int
	Duration      time.Duration
}

type Service struct {
	store    vectorindex.Store
	embedder embeddings.Embedder
	splitter *Splitter
	catalog  Catalog
	metrics  *metrics.Recorder
	logger   *log.Logger
}

type Option func(*Service)

func WithCatalog(catalog Catalog) Option {
	return func(s *Service) { s.catalog = catalog }
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

func NewService(store vectorindex.Store, embedder embeddings.Embedder, splitter *Splitter, logger *log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if splitter == nil {
		splitter = NewSplitter()
	}

	s := &Service{
		store:    store,
		embedder: embedder,
		splitter: splitter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loads every source, segments and embeds the records, then writes the
// index. Nothing touches the index until all chunks are embedded.
func (s *Service) Run(ctx context.Context, opts RunOptions) (IndexStats, error) {
	started := time.Now()

	if s.embedder == nil {
		return IndexStats{}, fmt.Errorf("%w: embedder not configured", domain.ErrConfiguration)
	}
	if s.store == nil {
		return IndexStats{}, fmt.Errorf("%w: index store not configured", domain.ErrConfiguration)
	}
	if len(opts.Loaders) == 0 {
		return IndexStats{}, fmt.Errorf("%w: no sources configured", domain.ErrConfiguration)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeRebuild
	}
	stats := IndexStats{Mode: mode}

	records, err := s.load(ctx, opts.Loaders, &stats)
	if err != nil {
		return stats, err
	}
	if len(records) == 0 {
		return stats, fmt.Errorf("%w: no documents were loaded (%d sources failed)", domain.ErrEmptyCorpus, stats.Failures)
	}

	chunks := s.splitter.SplitAll(records)
	if len(chunks) == 0 {
		return stats, fmt.Errorf("%w: %d documents produced no text", domain.ErrEmptyCorpus, len(records))
	}
	stats.Chunks = len(chunks)
	s.logger.Printf("split %d documents into %d chunks (size %d, overlap %d)", len(records), len(chunks), s.splitter.ChunkSize(), s.splitter.Overlap())

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return stats, fmt.Errorf("%w: embedding count mismatch: have %d chunks, %d embeddings", domain.ErrEmbeddingService, len(chunks), len(vectors))
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = vectorindex.Entry{
			ID:       uuid.NewString(),
			Text:     chunk.Text,
			Metadata: chunk.Metadata,
			Vector:   vectors[i],
		}
	}

	switch mode {
	case ModeMerge:
		stats.Mode, stats.Total, err = s.merge(ctx, entries)
	case ModeRebuild:
		stats.Total, err = s.rebuild(ctx, entries)
	default:
		err = fmt.Errorf("%w: unknown ingestion mode %q", domain.ErrConfiguration, mode)
	}
	if err != nil {
		return stats, err
	}

	stats.Added = len(entries)
	stats.Duration = time.Since(started)
	s.metrics.ObserveIndexed(string(stats.Mode), stats.Added, stats.Duration)
	s.recordRun(ctx, started, stats, chunks)

	s.logger.Printf("%s complete: %d documents, %d chunks added, %d entries total, %d failed sources in %s",
		stats.Mode, stats.Documents, stats.Added, stats.Total, stats.Failures, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func (s *Service) load(ctx context.Context, loaders []Loader, stats *IndexStats) ([]domain.Record, error) {
	var records []domain.Record
	for _, loader := range loaders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := loader.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s sources: %w", loader.Name(), err)
		}

		for _, failure := range result.Failures {
			stats.FailedSources = append(stats.FailedSources, failure.Source)
		}
		stats.Failures += len(result.Failures)
		stats.Documents += len(result.Records)
		records = append(records, result.Records...)

		s.metrics.ObserveLoad(loader.Name(), len(result.Records), len(result.Failures))
		s.logger.Printf("%s loader produced %d documents (%d failures)", loader.Name(), len(result.Records), len(result.Failures))
	}
	return records, nil
}

func (s *Service) rebuild(ctx context.Context, entries []vectorindex.Entry) (int, error) {
	builder, err := s.store.Create(ctx)
	if err != nil {
		return 0, fmt.Errorf("create index at %s: %w", s.store.Location(), err)
	}

	if err := builder.Upsert(ctx, entries); err != nil {
		s.abort(builder)
		return 0, fmt.Errorf("write index: %w", err)
	}
	total, err := builder.Count(ctx)
	if err != nil {
		s.abort(builder)
		return 0, fmt.Errorf("count index: %w", err)
	}
	if err := builder.Commit(ctx); err != nil {
		s.abort(builder)
		return 0, fmt.Errorf("persist index: %w", err)
	}
	return total, nil
}

func (s *Service) abort(builder vectorindex.Builder) {
	if err := builder.Abort(); err != nil {
		s.logger.Printf("discard staged index: %v", err)
	}
}

func (s *Service) merge(ctx context.Context, entries []vectorindex.Entry) (Mode, int, error) {
	idx, err := s.store.Open(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrIndexUnavailable) {
			return ModeMerge, 0, fmt.Errorf("open index: %w", err)
		}
		s.logger.Printf("cannot merge into existing index (%v); rebuilding from the current sources", err)
		total, err := s.rebuild(ctx, entries)
		return ModeRebuild, total, err
	}
	defer idx.Close()

	if err := idx.Upsert(ctx, entries); err != nil {
		return ModeMerge, 0, fmt.Errorf("append to index: %w", err)
	}
	total, err := idx.Count(ctx)
	if err != nil {
		return ModeMerge, 0, fmt.Errorf("count index: %w", err)
	}
	return ModeMerge, total, nil
}

func (s *Service) recordRun(ctx context.Context, started time.Time, stats IndexStats, chunks []domain.Chunk) {
	if s.catalog == nil {
		return
	}

	run := knowledge.Run{
		ID:        uuid.NewString(),
		Mode:      string(stats.Mode),
		StartedAt: started,
		Documents: stats.Documents,
		Chunks:    stats.Added,
		Failures:  stats.Failures,
		Sources:   sourceStats(chunks),
	}
	if err := s.catalog.RecordRun(ctx, run); err != nil {
		s.logger.Printf("record run in catalog: %v", err)
	}
}

// sourceStats counts chunks per source in first-seen order.
func sourceStats(chunks []domain.Chunk) []knowledge.SourceStat {
	positions := make(map[string]int)
	var out []knowledge.SourceStat
	for _, chunk := range chunks {
		source := domain.SourceOf(chunk.Metadata)
		pos, ok := positions[source]
		if !ok {
			pos = len(out)
			positions[source] = pos
			out = append(out, knowledge.SourceStat{Source: source, Kind: string(ClassifySource(source))})
		}
		out[pos].Chunks++
	}
	return out
}
