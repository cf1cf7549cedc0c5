package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIClient serves both OpenAI and Gemini through the OpenAI-compatible API.
type openAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &openAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	turns := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		turns[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    turns,
	})
	if err != nil {
		return "", generationError(fmt.Errorf("%s chat completion: %w", c.model, err))
	}
	if len(resp.Choices) == 0 {
		return "", generationError(errors.New("chat completion returned no choices"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", generationError(fmt.Errorf("%s withheld the answer (content filter)", c.model))
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", generationError(fmt.Errorf("%s returned an empty answer", c.model))
	}
	return choice.Message.Content, nil
}
