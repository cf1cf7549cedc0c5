package ingestion

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/knowledge"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

type staticLoader struct {
	name   string
	result LoadResult
	err    error
	calls  int
}

func (l *staticLoader) Name() string { return l.name }

func (l *staticLoader) Load(context.Context) (LoadResult, error) {
	l.calls++
	return l.result, l.err
}

// hashEmbedder returns deterministic 8-dimensional vectors.
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *hashEmbedder) Model() string { return "hash-test" }

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		sum := h.Sum64()
		vec := make([]float32, 8)
		for j := range vec {
			vec[j] = float32((sum>>(j*8))&0xff) + 1
		}
		out[i] = vec
	}
	return out, nil
}

type recordingCatalog struct {
	runs []knowledge.Run
	err  error
}

func (c *recordingCatalog) RecordRun(_ context.Context, run knowledge.Run) error {
	c.runs = append(c.runs, run)
	return c.err
}

func records(source string, n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			Content:  fmt.Sprintf("GeneXus page %d of %s describes transactions, procedures and web panels.", i, source),
			Metadata: map[string]any{domain.MetaSource: source, domain.MetaPage: i},
		}
	}
	return out
}

func newTestService(t *testing.T, opts ...Option) (*Service, *vectorindex.SQLiteStore, *hashEmbedder) {
	t.Helper()
	store := vectorindex.NewSQLiteStore(filepath.Join(t.TempDir(), "index_db"), vectorindex.Options{Model: "hash-test"}, discardLogger())
	embedder := &hashEmbedder{}
	return NewService(store, embedder, NewSplitter(WithChunkSize(200), WithChunkOverlap(40)), discardLogger(), opts...), store, embedder
}

func countEntries(t *testing.T, store vectorindex.Store) int {
	t.Helper()
	idx, err := store.Open(context.Background())
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunRebuild(t *testing.T) {
	svc, store, _ := newTestService(t)
	loader := &staticLoader{name: "pdf", result: LoadResult{
		Records:  records("docs/a.pdf", 3),
		Failures: []*domain.SourceError{domain.NewSourceError("docs/broken.pdf", errors.New("bad xref"))},
	}}

	stats, err := svc.Run(context.Background(), RunOptions{Mode: ModeRebuild, Loaders: []Loader{loader}})
	require.NoError(t, err)

	assert.Equal(t, ModeRebuild, stats.Mode)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, []string{"docs/broken.pdf"}, stats.FailedSources)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, countEntries(t, store))
}

func TestRunMergeAppendsNPlusM(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := svc.Run(context.Background(), RunOptions{Mode: ModeRebuild, Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Records: records("docs/a.pdf", 4)}},
	}})
	require.NoError(t, err)
	n := countEntries(t, store)

	stats, err := svc.Run(context.Background(), RunOptions{Mode: ModeMerge, Loaders: []Loader{
		&staticLoader{name: "web", result: LoadResult{Records: records("https://docs.genexus.com/en/wiki?1", 2)}},
	}})
	require.NoError(t, err)

	assert.Equal(t, ModeMerge, stats.Mode)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, n+2, stats.Total)
	assert.Equal(t, n+2, countEntries(t, store))
}

func TestRunMergeKeepsDuplicates(t *testing.T) {
	svc, store, _ := newTestService(t)
	loader := &staticLoader{name: "pdf", result: LoadResult{Records: records("docs/a.pdf", 2)}}

	_, err := svc.Run(context.Background(), RunOptions{Mode: ModeRebuild, Loaders: []Loader{loader}})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), RunOptions{Mode: ModeMerge, Loaders: []Loader{loader}})
	require.NoError(t, err)

	assert.Equal(t, 4, countEntries(t, store))
}

func TestRunMergeFallsBackToRebuild(t *testing.T) {
	svc, store, _ := newTestService(t)

	stats, err := svc.Run(context.Background(), RunOptions{Mode: ModeMerge, Loaders: []Loader{
		&staticLoader{name: "web", result: LoadResult{Records: records("https://docs.genexus.com/en/wiki?9", 2)}},
	}})
	require.NoError(t, err)
	assert.Equal(t, ModeRebuild, stats.Mode)
	assert.Equal(t, 2, countEntries(t, store))
}

func TestRunEmptyCorpusLeavesIndexUntouched(t *testing.T) {
	svc, store, embedder := newTestService(t)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Records: records("docs/a.pdf", 1)}},
	}})
	require.NoError(t, err)
	callsBefore := embedder.calls

	stats, err := svc.Run(context.Background(), RunOptions{Mode: ModeRebuild, Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Failures: []*domain.SourceError{domain.NewSourceError("x.pdf", errors.New("boom"))}}},
		&staticLoader{name: "web"},
	}})
	require.ErrorIs(t, err, domain.ErrEmptyCorpus)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, callsBefore, embedder.calls)
	assert.Equal(t, 1, countEntries(t, store))
}

func TestRunWhitespaceOnlyCorpusIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Records: []domain.Record{{Content: " \n\t ", Metadata: map[string]any{domain.MetaSource: "a.pdf"}}}}},
	}})
	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)
}

func TestRunEmbeddingFailureKeepsPreviousIndex(t *testing.T) {
	svc, store, embedder := newTestService(t)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Records: records("docs/a.pdf", 2)}},
	}})
	require.NoError(t, err)

	embedder.err = fmt.Errorf("%w: unreachable", domain.ErrEmbeddingService)
	_, err = svc.Run(context.Background(), RunOptions{Mode: ModeRebuild, Loaders: []Loader{
		&staticLoader{name: "pdf", result: LoadResult{Records: records("docs/b.pdf", 5)}},
	}})
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Equal(t, 2, countEntries(t, store))
}

func TestRunLoaderErrorIsFatal(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{
		&staticLoader{name: "pdf", err: fmt.Errorf("%w: corpus directory missing", domain.ErrConfiguration)},
	}})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "load pdf sources")
}

func TestRunRequiresLoaders(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRunRecordsCatalog(t *testing.T) {
	catalog := &recordingCatalog{err: errors.New("graph offline")}
	svc, _, _ := newTestService(t, WithCatalog(catalog))

	recs := append(records("docs/a.pdf", 2), records("https://docs.genexus.com/en/wiki?5", 1)...)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{&staticLoader{name: "mixed", result: LoadResult{Records: recs}}}})
	require.NoError(t, err, "catalog errors must not fail the run")

	require.Len(t, catalog.runs, 1)
	run := catalog.runs[0]
	assert.Equal(t, "rebuild", run.Mode)
	assert.Equal(t, 3, run.Chunks)
	assert.Equal(t, []knowledge.SourceStat{
		{Source: "docs/a.pdf", Kind: string(SourcePDF), Chunks: 2},
		{Source: "https://docs.genexus.com/en/wiki?5", Kind: string(SourceWeb), Chunks: 1},
	}, run.Sources)
}

func TestRunChunksCarryRecordMetadata(t *testing.T) {
	svc, store, _ := newTestService(t)
	long := strings.Repeat("Business components expose transactions as APIs. ", 20)
	_, err := svc.Run(context.Background(), RunOptions{Loaders: []Loader{&staticLoader{name: "pdf", result: LoadResult{
		Records: []domain.Record{{Content: long, Metadata: map[string]any{domain.MetaSource: "docs/bc.pdf", domain.MetaPage: 7}}},
	}}}})
	require.NoError(t, err)

	idx, err := store.Open(context.Background())
	require.NoError(t, err)
	defer idx.Close()

	sources, err := idx.Sources(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "docs/bc.pdf", sources[0].Source)
	assert.Greater(t, sources[0].Entries, 1)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, mode)

	mode, err = ParseMode("rebuild")
	require.NoError(t, err)
	assert.Equal(t, ModeRebuild, mode)

	_, err = ParseMode("append")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
