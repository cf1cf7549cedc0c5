package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/mukasc/genexus-ai-assistant/chat"
	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/database"
	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/embeddings"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
	"github.com/mukasc/genexus-ai-assistant/knowledge"
	"github.com/mukasc/genexus-ai-assistant/llm"
	"github.com/mukasc/genexus-ai-assistant/metrics"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

// sourceCatalog is the optional graph of ingested sources.
type sourceCatalog interface {
	ingestion.Catalog
	Sources(ctx context.Context, limit int) ([]knowledge.SourceStat, error)
	Purge(ctx context.Context) error
}

// runtime holds what the commands share. The embedder and the language
// model are built on first use so commands that never call them run
// without a credential.
type runtime struct {
	cfg     config.Config
	logger  *log.Logger
	store   vectorindex.Store
	catalog sourceCatalog
	metrics *metrics.Recorder

	embedder embeddings.Embedder
	llm      llm.Client

	closers []func()
}

func newRuntime(ctx context.Context, cfg config.Config, logger *log.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.NewRecorder()}

	opts := vectorindex.Options{Model: cfg.Embeddings.Model, Dimension: cfg.Embeddings.Dimension}
	switch cfg.Index.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres connection: %w", domain.ErrIndexUnavailable, err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.store = vectorindex.NewPostgresStore(pool, opts, logger)
	default:
		rt.store = vectorindex.NewSQLiteStore(cfg.Index.Dir, opts, logger)
	}

	if cfg.Graph.Enabled {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Printf("source catalog disabled: %v", err)
		} else {
			rt.closers = append(rt.closers, func() { _ = driver.Close(context.Background()) })
			rt.catalog = knowledge.NewCatalog(driver, logger)
		}
	}
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func (rt *runtime) Embedder() (embeddings.Embedder, error) {
	if rt.embedder == nil {
		gateway, err := embeddings.NewEmbedder(rt.cfg, rt.logger)
		if err != nil {
			return nil, err
		}
		rt.embedder = gateway
	}
	return rt.embedder, nil
}

func (rt *runtime) LLM() (llm.Client, error) {
	if rt.llm == nil {
		client, err := llm.NewClient(rt.cfg)
		if err != nil {
			return nil, err
		}
		rt.llm = client
	}
	return rt.llm, nil
}

func (rt *runtime) ingest(ctx context.Context, mode ingestion.Mode, loaders ...ingestion.Loader) (ingestion.IndexStats, error) {
	embedder, err := rt.Embedder()
	if err != nil {
		return ingestion.IndexStats{}, err
	}

	splitter := ingestion.NewSplitter(
		ingestion.WithChunkSize(rt.cfg.Splitter.ChunkSize),
		ingestion.WithChunkOverlap(rt.cfg.Splitter.ChunkOverlap),
	)
	opts := []ingestion.Option{ingestion.WithMetrics(rt.metrics)}
	if rt.catalog != nil {
		opts = append(opts, ingestion.WithCatalog(rt.catalog))
	}

	svc := ingestion.NewService(rt.store, embedder, splitter, rt.logger, opts...)
	return svc.Run(ctx, ingestion.RunOptions{Mode: mode, Loaders: loaders})
}

// chatService opens the index and builds the composer around it. The
// returned index must be closed by the caller.
func (rt *runtime) chatService(ctx context.Context) (*chat.Service, vectorindex.Index, error) {
	idx, err := rt.store.Open(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc, err := rt.composer(idx)
	if err != nil {
		idx.Close()
		return nil, nil, err
	}
	return svc, idx, nil
}

func (rt *runtime) composer(idx vectorindex.Index) (*chat.Service, error) {
	embedder, err := rt.Embedder()
	if err != nil {
		return nil, err
	}
	client, err := rt.LLM()
	if err != nil {
		return nil, err
	}

	prompts, err := chat.LoadPromptCatalog(rt.cfg.Chat.PromptFile)
	if err != nil {
		return nil, err
	}
	tmpl, err := prompts.Select(rt.cfg.Chat.Template)
	if err != nil {
		return nil, err
	}

	return chat.NewService(idx, embedder, client, tmpl, rt.logger,
		chat.WithTopK(rt.cfg.Chat.TopK),
		chat.WithLanguage(rt.cfg.Chat.DefaultLanguage),
		chat.WithMetrics(rt.metrics),
	)
}
