package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	FetcherHTTP    = "http"
	FetcherBrowser = "browser"

	// GeminiOpenAIBaseURL is the OpenAI-compatible endpoint of the Gemini API.
	GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// Config is the full runtime configuration. Values come from defaults, an
// optional YAML file, then GXA_* environment variables.
type Config struct {
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OllamaHost    string `mapstructure:"ollama_host"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
	Neo4jURI    string `mapstructure:"neo4j_uri"`
	Neo4jUser   string `mapstructure:"neo4j_user"`
	Neo4jPass   string `mapstructure:"neo4j_password"`

	Embeddings EmbeddingConfig `mapstructure:"embeddings"`
	LLM        LLMConfig       `mapstructure:"llm"`
	Index      IndexConfig     `mapstructure:"index"`
	Corpus     CorpusConfig    `mapstructure:"corpus"`
	Splitter   SplitterConfig  `mapstructure:"splitter"`
	Crawl      CrawlConfig     `mapstructure:"crawl"`
	Chat       ChatConfig      `mapstructure:"chat"`
	Graph      GraphConfig     `mapstructure:"graph"`
	Server     ServerConfig    `mapstructure:"server"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	Dimension         int           `mapstructure:"dimension"`
	BaseURL           string        `mapstructure:"base_url"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type IndexConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type CorpusConfig struct {
	Dir string `mapstructure:"dir"`
}

type SplitterConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// CrawlConfig describes the paginated documentation search crawl.
type CrawlConfig struct {
	SearchURL         string        `mapstructure:"search_url"`
	BaseURL           string        `mapstructure:"base_url"`
	LinkSelector      string        `mapstructure:"link_selector"`
	ArticlePattern    string        `mapstructure:"article_pattern"`
	MaxArticles       int           `mapstructure:"max_articles"`
	MaxPages          int           `mapstructure:"max_pages"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	MaxDuration       time.Duration `mapstructure:"max_duration"`
	Fetcher           string        `mapstructure:"fetcher"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
	Headless          bool          `mapstructure:"headless"`
}

type ChatConfig struct {
	TopK            int    `mapstructure:"top_k"`
	Template        string `mapstructure:"template"`
	PromptFile      string `mapstructure:"prompt_file"`
	DefaultLanguage string `mapstructure:"default_language"`
}

type GraphConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// Load reads configuration. An empty path searches for gxa.yaml in the
// working directory and ./config; a missing file is not an error then.
func Load(path string) (Config, error) {
	loadDotEnv("keys.env", ".env")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("openai_api_key", "OPENAI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config file %s: %w", domain.ErrConfiguration, path, err)
		}
	} else {
		v.SetConfigName("gxa")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("%w: read config: %w", domain.ErrConfiguration, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode config: %w", domain.ErrConfiguration, err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai_base_url", getEnv("OPENAI_BASE_URL", ""))
	v.SetDefault("ollama_host", getEnv("OLLAMA_HOST", "http://localhost:11434"))
	v.SetDefault("postgres_dsn", getEnv("POSTGRES_DSN", "postgres://localhost:5432/genexus-assistant?sslmode=disable"))
	v.SetDefault("neo4j_uri", getEnv("NEO4J_URI", "neo4j://localhost:7687"))
	v.SetDefault("neo4j_user", getEnv("NEO4J_USERNAME", "neo4j"))
	v.SetDefault("neo4j_password", getEnv("NEO4J_PASSWORD", "password"))

	v.SetDefault("embeddings.provider", ProviderGemini)
	v.SetDefault("embeddings.model", "text-embedding-004")
	v.SetDefault("embeddings.dimension", 768)
	v.SetDefault("embeddings.batch_size", 100)
	v.SetDefault("embeddings.concurrency", 2)
	v.SetDefault("embeddings.requests_per_second", 5)
	v.SetDefault("embeddings.timeout", "60s")

	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("index.backend", BackendSQLite)
	v.SetDefault("index.dir", "./index_db")
	v.SetDefault("corpus.dir", "./docs")

	v.SetDefault("splitter.chunk_size", 1000)
	v.SetDefault("splitter.chunk_overlap", 200)

	v.SetDefault("crawl.search_url", "https://docs.genexus.com/en/hsearch?+category%3AGeneXus+18+Help")
	v.SetDefault("crawl.base_url", "https://docs.genexus.com")
	v.SetDefault("crawl.link_selector", "span.Search__Title > a")
	v.SetDefault("crawl.article_pattern", "/en/wiki?")
	v.SetDefault("crawl.max_articles", 50)
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.ready_timeout", "15s")
	v.SetDefault("crawl.settle_delay", "0s")
	v.SetDefault("crawl.max_duration", "10m")
	v.SetDefault("crawl.fetcher", FetcherHTTP)
	v.SetDefault("crawl.fetch_timeout", "30s")
	v.SetDefault("crawl.requests_per_second", 1)
	v.SetDefault("crawl.user_agent", "genexus-ai-assistant/1.0")
	v.SetDefault("crawl.headless", true)

	v.SetDefault("chat.top_k", 3)
	v.SetDefault("chat.template", "genexus-assistant")
	v.SetDefault("chat.default_language", "Brazilian Portuguese")

	v.SetDefault("graph.enabled", false)
	v.SetDefault("server.address", ":8080")
}

// Normalize lowercases enum-like values and fills zero values a config file may have cleared.
func (c Config) Normalize() Config {
	c.Embeddings.Provider = strings.ToLower(strings.TrimSpace(c.Embeddings.Provider))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	c.Crawl.Fetcher = strings.ToLower(strings.TrimSpace(c.Crawl.Fetcher))
	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = 100
	}
	if c.Embeddings.Concurrency <= 0 {
		c.Embeddings.Concurrency = 1
	}
	if c.Chat.TopK <= 0 {
		c.Chat.TopK = 3
	}
	return c
}

// Validate checks structural settings. Credentials are checked by the
// service factories so commands that never call a model can run without one.
func (c Config) Validate() error {
	var problems []string

	for name, provider := range map[string]string{"embeddings.provider": c.Embeddings.Provider, "llm.provider": c.LLM.Provider} {
		switch provider {
		case ProviderGemini, ProviderOpenAI, ProviderOllama:
		default:
			problems = append(problems, fmt.Sprintf("%s %q is not supported", name, provider))
		}
	}
	if strings.TrimSpace(c.Embeddings.Model) == "" {
		problems = append(problems, "embeddings.model is required")
	}
	switch c.Index.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Index.Dir) == "" {
			problems = append(problems, "index.dir is required")
		}
	case BackendPostgres:
		if c.Embeddings.Dimension <= 0 {
			problems = append(problems, "embeddings.dimension must be set for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("index.backend %q is not supported", c.Index.Backend))
	}
	if c.Splitter.ChunkSize <= 0 {
		problems = append(problems, "splitter.chunk_size must be positive")
	}
	if c.Splitter.ChunkOverlap < 0 || c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		problems = append(problems, "splitter.chunk_overlap must be between 0 and chunk_size")
	}
	if c.Crawl.MaxArticles <= 0 || c.Crawl.MaxPages <= 0 {
		problems = append(problems, "crawl.max_articles and crawl.max_pages must be positive")
	}
	switch c.Crawl.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		problems = append(problems, fmt.Sprintf("crawl.fetcher %q is not supported", c.Crawl.Fetcher))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// APIKey returns the credential used by the given provider. Ollama needs none.
func (c Config) APIKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return ""
	}
}

// BaseURL resolves the OpenAI-compatible endpoint for a provider.
func (c Config) BaseURL(provider, override string) string {
	if override != "" {
		return override
	}
	switch provider {
	case ProviderGemini:
		return GeminiOpenAIBaseURL
	case ProviderOpenAI:
		return c.OpenAIBaseURL
	default:
		return ""
	}
}

// RequireCredential fails with ErrConfiguration when a remote provider has no key.
func (c Config) RequireCredential(provider string) error {
	if provider == ProviderOllama {
		return nil
	}
	if strings.TrimSpace(c.APIKey(provider)) == "" {
		envName := "GEMINI_API_KEY"
		if provider == ProviderOpenAI {
			envName = "OPENAI_API_KEY"
		}
		return fmt.Errorf("%w: %s provider selected but %s is not set", domain.ErrConfiguration, provider, envName)
	}
	return nil
}

func loadDotEnv(files ...string) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		_ = godotenv.Load(file)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
