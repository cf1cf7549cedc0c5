package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-004", cfg.Embeddings.Model)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 1000, cfg.Splitter.ChunkSize)
	assert.Equal(t, 200, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, 50, cfg.Crawl.MaxArticles)
	assert.Equal(t, 10, cfg.Crawl.MaxPages)
	assert.Equal(t, 15*time.Second, cfg.Crawl.ReadyTimeout)
	assert.Equal(t, 3, cfg.Chat.TopK)
	assert.Equal(t, BackendSQLite, cfg.Index.Backend)
	assert.Equal(t, "test-key", cfg.APIKey(ProviderGemini))
	assert.NoError(t, cfg.RequireCredential(ProviderGemini))
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gxa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  dir: /tmp/custom-index
crawl:
  max_articles: 5
chat:
  template: strict
`), 0o600))
	t.Setenv("GXA_CRAWL_MAX_PAGES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom-index", cfg.Index.Dir)
	assert.Equal(t, 5, cfg.Crawl.MaxArticles)
	assert.Equal(t, 2, cfg.Crawl.MaxPages)
	assert.Equal(t, "strict", cfg.Chat.Template)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gxa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
splitter:
  chunk_size: 100
  chunk_overlap: 100
index:
  backend: chroma
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "chunk_overlap")
	assert.Contains(t, err.Error(), "chroma")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRequireCredential(t *testing.T) {
	cfg := Config{}

	err := cfg.RequireCredential(ProviderGemini)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")

	err = cfg.RequireCredential(ProviderOpenAI)
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	assert.NoError(t, cfg.RequireCredential(ProviderOllama))
}

func TestBaseURL(t *testing.T) {
	cfg := Config{OpenAIBaseURL: "https://proxy.local/v1"}

	assert.Equal(t, GeminiOpenAIBaseURL, cfg.BaseURL(ProviderGemini, ""))
	assert.Equal(t, "https://proxy.local/v1", cfg.BaseURL(ProviderOpenAI, ""))
	assert.Equal(t, "https://override", cfg.BaseURL(ProviderGemini, "https://override"))
}
