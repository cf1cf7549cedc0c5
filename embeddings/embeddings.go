// Package embeddings turns text into vectors through a remote or local model.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

// Embedder is what the ingestion pipeline and the composer depend on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Provider embeds a single request's worth of texts, in order.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	APIKey     string
	BaseURL    string
	OllamaHost string

	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	Timeout           time.Duration
}

func NewEmbedder(cfg config.Config, logger *log.Logger) (*Gateway, error) {
	provider := cfg.Embeddings.Provider
	if err := cfg.RequireCredential(provider); err != nil {
		return nil, err
	}

	opts := Options{
		Provider:          provider,
		Model:             cfg.Embeddings.Model,
		Dimension:         cfg.Embeddings.Dimension,
		APIKey:            cfg.APIKey(provider),
		BaseURL:           cfg.BaseURL(provider, cfg.Embeddings.BaseURL),
		OllamaHost:        cfg.OllamaHost,
		BatchSize:         cfg.Embeddings.BatchSize,
		Concurrency:       cfg.Embeddings.Concurrency,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Timeout:           cfg.Embeddings.Timeout,
	}

	switch provider {
	case config.ProviderGemini, config.ProviderOpenAI:
		return NewGateway(NewOpenAIProvider(opts), opts, logger), nil
	case config.ProviderOllama:
		return NewGateway(NewOllamaProvider(opts), opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider: %s", domain.ErrConfiguration, provider)
	}
}

// statusError carries the HTTP status of a failed provider call.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var stErr *statusError
	if errors.As(err, &stErr) {
		return stErr.StatusCode
	}
	return 0
}

func serviceError(err error) error {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: credential rejected: %w", domain.ErrEmbeddingService, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: quota or rate limit exceeded: %w", domain.ErrEmbeddingService, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
	}
}
