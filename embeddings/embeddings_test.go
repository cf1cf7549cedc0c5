package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

type fakeProvider struct {
	mu        sync.Mutex
	batches   [][]string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	embed     func(texts []string) ([][]float32, error)
}

func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		current := f.maxFlight.Load()
		if n <= current || f.maxFlight.CompareAndSwap(current, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.embed != nil {
		return f.embed(texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestGatewayBatchesAndKeepsOrder(t *testing.T) {
	provider := &fakeProvider{}
	gateway := NewGateway(provider, Options{Model: "m", BatchSize: 3, Concurrency: 2}, quietLogger())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vectors, err := gateway.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0])
	}

	assert.Len(t, provider.batches, 3)
	for _, batch := range provider.batches {
		assert.LessOrEqual(t, len(batch), 3)
	}
	assert.LessOrEqual(t, provider.maxFlight.Load(), int32(2))
	assert.Equal(t, "m", gateway.Model())
}

func TestGatewayEmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	vectors, err := NewGateway(provider, Options{}, quietLogger()).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, provider.batches)
}

func TestGatewayEmbedSingle(t *testing.T) {
	vec, err := NewGateway(&fakeProvider{}, Options{}, quietLogger()).Embed(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, vec)
}

func TestGatewayRejectsWrongCount(t *testing.T) {
	provider := &fakeProvider{embed: func(texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	_, err := NewGateway(provider, Options{}, quietLogger()).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
}

func TestGatewayRejectsWrongDimension(t *testing.T) {
	gateway := NewGateway(&fakeProvider{}, Options{Dimension: 768}, quietLogger())
	_, err := gateway.EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Contains(t, err.Error(), "dimension")
}

func TestGatewayRejectsMixedDimensions(t *testing.T) {
	provider := &fakeProvider{embed: func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = make([]float32, len(text))
			out[i][0] = 1
		}
		return out, nil
	}}
	_, err := NewGateway(provider, Options{BatchSize: 1}, quietLogger()).EmbedBatch(context.Background(), []string{"ab", "abc"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
}

func TestGatewayWrapsProviderFailure(t *testing.T) {
	provider := &fakeProvider{embed: func([]string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := NewGateway(provider, Options{}, quietLogger()).EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGatewayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gateway := NewGateway(&fakeProvider{}, Options{RequestsPerSecond: 0.001, Concurrency: 1}, quietLogger())
	_, _ = gateway.EmbedBatch(context.Background(), []string{"warm the limiter"})

	_, err := gateway.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}

func embeddingServer(t *testing.T, status int) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req.Input...)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"API key not valid","type":"invalid_request_error"}}`))
			return
		}

		// Reverse order to check the client re-sorts by index.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), float32(len(req.Input[i]))},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": req.Model, "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestOpenAIProviderSortsByIndex(t *testing.T) {
	srv, seen := embeddingServer(t, http.StatusOK)
	provider := NewOpenAIProvider(Options{Model: "text-embedding-004", APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second})

	vectors, err := provider.EmbedTexts(context.Background(), []string{"x", "yy", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 2}, {2, 3}}, vectors)
	assert.Equal(t, []string{"x", "yy", "zzz"}, *seen)
}

func TestOpenAIProviderCredentialRejected(t *testing.T) {
	srv, _ := embeddingServer(t, http.StatusUnauthorized)
	provider := NewOpenAIProvider(Options{Model: "text-embedding-004", APIKey: "test-key", BaseURL: srv.URL + "/v1"})

	_, err := NewGateway(provider, Options{}, quietLogger()).EmbedBatch(context.Background(), []string{"x"})
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Contains(t, err.Error(), "credential rejected")
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		if len(req.Input) > 0 && req.Input[0] == "fail" {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		var reply ollamaEmbedReply
		for _, text := range req.Input {
			reply.Embeddings = append(reply.Embeddings, []float64{float64(len(text)), 0.5})
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	provider := NewOllamaProvider(Options{Model: "nomic-embed-text", OllamaHost: srv.URL + "/"})
	vectors, err := provider.EmbedTexts(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0.5}, {4, 0.5}}, vectors)

	_, err = provider.EmbedTexts(context.Background(), []string{"fail"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, statusCode(err))
}

func TestNewEmbedderRequiresCredential(t *testing.T) {
	cfg := config.Config{Embeddings: config.EmbeddingConfig{Provider: config.ProviderGemini, Model: "text-embedding-004"}}
	_, err := NewEmbedder(cfg, quietLogger())
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestNewEmbedderProviders(t *testing.T) {
	cfg := config.Config{
		GeminiAPIKey: "k",
		OllamaHost:   "http://localhost:11434",
		Embeddings:   config.EmbeddingConfig{Provider: config.ProviderGemini, Model: "text-embedding-004", Dimension: 768},
	}
	gateway, err := NewEmbedder(cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", gateway.Model())
	assert.Equal(t, 768, gateway.Dimension())

	cfg.Embeddings.Provider = config.ProviderOllama
	_, err = NewEmbedder(cfg, quietLogger())
	require.NoError(t, err)

	cfg.Embeddings.Provider = "bogus"
	_, err = NewEmbedder(cfg, quietLogger())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
