package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/embeddings"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
	"github.com/mukasc/genexus-ai-assistant/llm"
	"github.com/mukasc/genexus-ai-assistant/metrics"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

const (
	defaultTopK     = 3
	defaultLanguage = "Brazilian Portuguese"
	previewLength   = 80
	contextSep      = "\n\n"
)

// Searcher is the part of an opened index the composer needs.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]vectorindex.Hit, error)
}

// Service answers questions from the indexed documentation. It holds one
// opened index for its whole lifetime and keeps no conversation state.
type Service struct {
	index    Searcher
	embedder embeddings.Embedder
	llm      llm.Client
	template *Template
	topK     int
	language string
	metrics  *metrics.Recorder
	logger   *log.Logger
}

type Option func(*Service)

func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithLanguage sets the answer language used when the question's own
// language is unclear.
func WithLanguage(language string) Option {
	return func(s *Service) {
		if strings.TrimSpace(language) != "" {
			s.language = language
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

func NewService(index Searcher, embedder embeddings.Embedder, llmClient llm.Client, tmpl *Template, logger *log.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	if index == nil {
		return nil, fmt.Errorf("%w: chat service needs an opened index", domain.ErrIndexUnavailable)
	}
	if embedder == nil || llmClient == nil || tmpl == nil {
		return nil, fmt.Errorf("%w: chat service needs an embedder, a language model and a template", domain.ErrConfiguration)
	}

	s := &Service{
		index:    index,
		embedder: embedder,
		llm:      llmClient,
		template: tmpl,
		topK:     defaultTopK,
		language: defaultLanguage,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) TopK() int { return s.topK }

func (s *Service) Template() string { return s.template.ID() }

// Answer retrieves the closest chunks for query and asks the language model
// to answer from them. The model's text is returned unchanged.
func (s *Service) Answer(ctx context.Context, query string) (Response, error) {
	start := time.Now()
	resp, err := s.answer(ctx, query)
	s.metrics.ObserveAnswer(outcome(err), len(resp.Sources), time.Since(start))
	return resp, err
}

func (s *Service) answer(ctx context.Context, query string) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return Response{}, domain.ErrEmptyQuery
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingService) {
			err = fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
		}
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, s.topK)
	if err != nil {
		return Response{}, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		s.logger.Printf("no indexed chunks matched the question")
	}

	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Text
	}

	prompt, err := s.template.Render(PromptData{
		Context:  strings.Join(texts, contextSep),
		Question: query,
		Language: s.language,
	})
	if err != nil {
		return Response{}, err
	}

	answer, err := s.llm.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		if !errors.Is(err, domain.ErrGeneration) {
			err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		}
		return Response{Sources: sources(hits)}, fmt.Errorf("generate answer: %w", err)
	}

	return Response{Answer: answer, Sources: sources(hits), Template: s.template.ID()}, nil
}

func sources(hits []vectorindex.Hit) []Source {
	out := make([]Source, 0, len(hits))
	for _, hit := range hits {
		src := hit.Source()
		title, _ := hit.Metadata[domain.MetaTitle].(string)
		page := 0
		if index, ok := pageOf(hit.Metadata); ok {
			page = index + 1
		}
		out = append(out, Source{
			Source:  src,
			Kind:    ingestion.ClassifySource(src),
			Title:   title,
			Page:    page,
			Score:   hit.Score,
			Preview: Preview(hit.Text, previewLength),
		})
	}
	return out
}

// pageOf reads the 0-based page index, which comes back as float64 after a
// JSON round trip.
func pageOf(meta map[string]any) (int, bool) {
	switch v := meta[domain.MetaPage].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Preview collapses whitespace and truncates text to n runes.
func Preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if n <= 0 || len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, domain.ErrEmbeddingService):
		return "embedding_error"
	case errors.Is(err, domain.ErrGeneration):
		return "generation_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "index_error"
	}
}
