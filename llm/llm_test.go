package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

func TestNewClientProviders(t *testing.T) {
	cfg := config.Config{
		GeminiAPIKey: "k",
		LLM:          config.LLMConfig{Provider: config.ProviderGemini, Model: "gemini-2.5-flash"},
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.LLM.Provider = config.ProviderOllama
	client, err = NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}}
	_, err := NewClient(cfg)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Use a Transaction object."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "gemini-2.5-flash", Temperature: 0.1, APIKey: "k", BaseURL: srv.URL})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "How do I model data?"}})
	require.NoError(t, err)

	assert.Equal(t, "Use a Transaction object.", answer)
	assert.Equal(t, "gemini-2.5-flash", got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "How do I model data?", got.Messages[0].Content)
}

func TestOpenAIClientErrors(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"permission denied"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "m", APIKey: "k", BaseURL: srv.URL})

	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "credential rejected")

	status = http.StatusOK
	_, err = client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "no choices")
}

func TestOpenAIClientContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(Options{Model: "gemini-2.5-flash", APIKey: "k", BaseURL: srv.URL}).
		Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "content filter")
}

func TestOllamaClientGenerate(t *testing.T) {
	var got struct {
		Model    string         `json:"model"`
		Messages []ollamaTurn   `json:"messages"`
		Stream   bool           `json:"stream"`
		Options  map[string]any `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{Model: "llama3.1:8b", Temperature: 0.1, OllamaHost: srv.URL})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, "llama3.1:8b", got.Model)
	assert.Equal(t, []ollamaTurn{{Role: RoleUser, Content: "q"}}, got.Messages)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.1, got.Options["temperature"], 1e-6)
}

func TestOllamaClientEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"  "},"done":true}`))
	}))
	defer srv.Close()

	_, err := NewOllamaClient(Options{Model: "m", OllamaHost: srv.URL}).Generate(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "empty answer")
}

func TestOllamaClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(Options{Model: "m", OllamaHost: srv.URL}).Generate(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "model not loaded")
}
