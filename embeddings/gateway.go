package embeddings

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

const defaultBatchSize = 100

// Gateway splits work into provider-sized batches, runs a bounded number of
// them at once and checks every returned vector.
type Gateway struct {
	provider    Provider
	model       string
	dimension   int
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *log.Logger
}

func NewGateway(provider Provider, opts Options, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gateway{
		provider:    provider,
		model:       opts.Model,
		dimension:   opts.Dimension,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
	if g.batchSize <= 0 {
		g.batchSize = defaultBatchSize
	}
	if g.concurrency <= 0 {
		g.concurrency = 1
	}
	if opts.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), g.concurrency)
	}
	return g
}

func (g *Gateway) Model() string { return g.model }

// Dimension is the expected vector length, or 0 when it is learned.
func (g *Gateway) Dimension() int { return g.dimension }

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order. Any failed batch
// fails the whole call.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)

	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		group.Go(func() error {
			return g.embedRange(gctx, texts, results, start, end)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	dimension := len(results[0])
	for i, vec := range results {
		if len(vec) != dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", domain.ErrEmbeddingService, i, len(vec), dimension)
		}
	}
	return results, nil
}

func (g *Gateway) embedRange(ctx context.Context, texts []string, results [][]float32, start, end int) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
		}
	}

	vectors, err := g.provider.EmbedTexts(ctx, texts[start:end])
	if err != nil {
		g.logger.Printf("embedding batch %d-%d failed: %v", start, end, err)
		return serviceError(err)
	}
	if len(vectors) != end-start {
		return fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbeddingService, end-start, len(vectors))
	}

	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector for input %d", domain.ErrEmbeddingService, start+i)
		}
		if g.dimension > 0 && len(vec) != g.dimension {
			return fmt.Errorf("%w: embedding dimension mismatch: expected %d, got %d", domain.ErrEmbeddingService, g.dimension, len(vec))
		}
		results[start+i] = vec
	}
	return nil
}

var _ Embedder = (*Gateway)(nil)
