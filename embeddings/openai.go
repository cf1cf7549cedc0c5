package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

// openAIProvider talks to any OpenAI-compatible embeddings endpoint,
// including the Gemini one.
type openAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(opts Options) Provider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &openAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (p *openAIProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	results := make([][]float32, len(data))
	for i, datum := range data {
		results[i] = datum.Embedding
	}
	return results, nil
}
