// Package llm wraps the chat-completion models that write answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

// RoleUser is the only role the composer sends: one rendered prompt per question.
const RoleUser = "user"

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider    string
	Model       string
	Temperature float32
	Timeout     time.Duration

	APIKey     string
	BaseURL    string
	OllamaHost string
}

func NewClient(cfg config.Config) (Client, error) {
	provider := cfg.LLM.Provider
	if err := cfg.RequireCredential(provider); err != nil {
		return nil, err
	}

	opts := Options{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		APIKey:      cfg.APIKey(provider),
		BaseURL:     cfg.BaseURL(provider, cfg.LLM.BaseURL),
		OllamaHost:  cfg.OllamaHost,
	}

	switch provider {
	case config.ProviderGemini, config.ProviderOpenAI:
		return NewOpenAIClient(opts), nil
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider: %s", domain.ErrConfiguration, provider)
	}
}

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

func generationError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var stErr *statusError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &stErr):
		status = stErr.StatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: credential rejected: %w", domain.ErrGeneration, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: quota or rate limit exceeded: %w", domain.ErrGeneration, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
}
