package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ollamaProvider uses the batch /api/embed endpoint: one request per batch,
// vectors returned in input order.
type ollamaProvider struct {
	endpoint string
	model    string
	http     *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedReply struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error"`
}

func NewOllamaProvider(opts Options) Provider {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ollamaProvider{
		endpoint: host + "/api/embed",
		model:    opts.Model,
		http:     &http.Client{Timeout: timeout},
	}
}

func (p *ollamaProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode ollama embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", p.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama %s: %w", p.endpoint, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	var reply ollamaEmbedReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode ollama embed reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("ollama %s: %s", p.model, reply.Error)
	}

	vectors := make([][]float32, len(reply.Embeddings))
	for i, values := range reply.Embeddings {
		vec := make([]float32, len(values))
		for j, v := range values {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
