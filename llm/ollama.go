package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

type ollamaClient struct {
	endpoint string
	model    string
	options  map[string]any
	http     *http.Client
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewOllamaClient talks to /api/chat with streaming off, so one response
// body carries the whole answer.
func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ollamaClient{
		endpoint: host + "/api/chat",
		model:    opts.Model,
		options:  map[string]any{"temperature": opts.Temperature},
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	turns := make([]ollamaTurn, len(messages))
	for i, m := range messages {
		turns[i] = ollamaTurn{Role: m.Role, Content: m.Content}
	}

	var reply struct {
		Message ollamaTurn `json:"message"`
		Error   string     `json:"error"`
	}
	err := c.post(ctx, map[string]any{
		"model":    c.model,
		"messages": turns,
		"stream":   false,
		"options":  c.options,
	}, &reply)
	if err != nil {
		return "", generationError(err)
	}
	if reply.Error != "" {
		return "", generationError(fmt.Errorf("ollama %s: %s", c.model, reply.Error))
	}
	if strings.TrimSpace(reply.Message.Content) == "" {
		return "", generationError(errors.New("ollama returned an empty answer"))
	}
	return reply.Message.Content, nil
}

func (c *ollamaClient) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama %s: %w", c.endpoint, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ollama reply: %w", err)
	}
	return nil
}
