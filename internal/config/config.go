// Package config builds the immutable tutor configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig reports an invalid or incomplete configuration.
var ErrConfig = errors.New("invalid configuration")

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderHash      = "hash" // deterministic offline embeddings
)

// Index backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// ChunkingConfig sizes document chunks in tokens.
type ChunkingConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// RetrievalConfig controls how many chunks are fetched per question.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// PromptConfig bounds the assembled prompt.
type PromptConfig struct {
	TokenBudget   int `yaml:"token_budget"`
	HistoryBudget int `yaml:"history_budget"`
	HistoryTurns  int `yaml:"history_turns"` // most recent turns considered, 0 = all
}

// SessionConfig controls session retention. IdleTimeout 0 keeps sessions forever.
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AzureConfig holds Azure OpenAI endpoint settings shared by both gateways.
type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
	APIKey     string `yaml:"-"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables throttling
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"-"`
}

// LLMConfig configures the language-model gateway.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"-"`
}

// GatewayConfig bounds every remote call.
type GatewayConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend          string `yaml:"backend"`
	Path             string `yaml:"path"` // sqlite database file
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
	PostgresDSN      string `yaml:"postgres_dsn"`
}

// GitHubConfig points at a repository directory holding course notes.
type GitHubConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Path  string `yaml:"path"`
	Ref   string `yaml:"ref"`
	Token string `yaml:"-"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // "stdio" or "http"
}

// Config is the complete tutor configuration. It is built once and passed by value.
type Config struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Session   SessionConfig   `yaml:"session"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Azure     AzureConfig     `yaml:"azure"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Index     IndexConfig     `yaml:"index"`
	GitHub    GitHubConfig    `yaml:"github"`
	Server    ServerConfig    `yaml:"server"`

	// IngestConcurrency bounds how many documents are processed at once.
	IngestConcurrency int `yaml:"ingest_concurrency"`
	// ComputeCacheTTL keeps symbolic results memoized; 0 disables expiry.
	ComputeCacheTTL time.Duration `yaml:"compute_cache_ttl"`
	// GenerateMetadata asks the language model for a summary and topics of
	// every ingested document.
	GenerateMetadata bool `yaml:"generate_metadata"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Chunking:  ChunkingConfig{MaxTokens: 600, OverlapTokens: 100},
		Retrieval: RetrievalConfig{TopK: 3, MinScore: 0},
		Prompt:    PromptConfig{TokenBudget: 3000, HistoryBudget: 800, HistoryTurns: 4},
		Session:   SessionConfig{IdleTimeout: 30 * time.Minute},
		Embedding: EmbeddingConfig{
			Provider:    ProviderOpenAI,
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			BatchSize:   64,
			Concurrency: 4,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Gateway: GatewayConfig{
			MaxAttempts:    3,
			AttemptTimeout: 30 * time.Second,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Index: IndexConfig{
			Backend:          BackendSQLite,
			Path:             "data/tutor.db",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "course_chunks",
		},
		GitHub:            GitHubConfig{Ref: "main"},
		Server:            ServerConfig{Port: "8080", Mode: "stdio"},
		IngestConcurrency: 4,
		ComputeCacheTTL:   time.Hour,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of the current values.
func (c *Config) applyEnv() error {
	var errs []error
	intVar := func(key string, dst *int) {
		if err := getEnvInt(key, dst); err != nil {
			errs = append(errs, err)
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if err := getEnvDuration(key, dst); err != nil {
			errs = append(errs, err)
		}
	}

	intVar("CHUNK_SIZE", &c.Chunking.MaxTokens)
	intVar("CHUNK_OVERLAP", &c.Chunking.OverlapTokens)
	intVar("TOP_K_RESULTS", &c.Retrieval.TopK)
	if err := getEnvFloat("MIN_SCORE", &c.Retrieval.MinScore); err != nil {
		errs = append(errs, err)
	}
	intVar("TOKEN_BUDGET", &c.Prompt.TokenBudget)
	intVar("HISTORY_BUDGET", &c.Prompt.HistoryBudget)
	durationVar("SESSION_IDLE_TIMEOUT", &c.Session.IdleTimeout)

	c.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	intVar("EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)

	c.Embedding.APIKey = getEnv("OPENAI_API_KEY", c.Embedding.APIKey)
	switch c.LLM.Provider {
	case ProviderAnthropic:
		c.LLM.APIKey = getEnv("ANTHROPIC_API_KEY", c.LLM.APIKey)
	default:
		c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	}
	c.Azure.APIKey = getEnv("AZURE_OPENAI_API_KEY", c.Azure.APIKey)
	c.Azure.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT", c.Azure.Endpoint)
	c.Azure.APIVersion = getEnv("AZURE_OPENAI_API_VERSION", c.Azure.APIVersion)

	durationVar("GATEWAY_ATTEMPT_TIMEOUT", &c.Gateway.AttemptTimeout)

	c.Index.Backend = getEnv("INDEX_BACKEND", c.Index.Backend)
	c.Index.Path = getEnv("VECTOR_DB_PATH", c.Index.Path)
	c.Index.QdrantHost = getEnv("QDRANT_HOST", c.Index.QdrantHost)
	intVar("QDRANT_PORT", &c.Index.QdrantPort)
	c.Index.PostgresDSN = getEnv("DATABASE_URL", c.Index.PostgresDSN)

	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
	c.GitHub.Owner = getEnv("GITHUB_OWNER", c.GitHub.Owner)
	c.GitHub.Repo = getEnv("GITHUB_REPO", c.GitHub.Repo)
	c.GitHub.Path = getEnv("GITHUB_PATH", c.GitHub.Path)
	if v := getEnv("GENERATE_METADATA", ""); v != "" {
		c.GenerateMetadata = v == "true"
	}
	intVar("INGEST_CONCURRENCY", &c.IngestConcurrency)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	if getEnv("SERVER_MODE", "false") == "true" {
		c.Server.Mode = "http"
	}

	return errors.Join(errs...)
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Chunking.MaxTokens > 0, "chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	check(c.Chunking.OverlapTokens >= 0, "chunking.overlap_tokens must not be negative, got %d", c.Chunking.OverlapTokens)
	check(c.Chunking.OverlapTokens < c.Chunking.MaxTokens,
		"chunking.overlap_tokens (%d) must be smaller than max_tokens (%d)", c.Chunking.OverlapTokens, c.Chunking.MaxTokens)
	check(c.Retrieval.TopK > 0, "retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	check(c.Retrieval.MinScore >= -1 && c.Retrieval.MinScore <= 1, "retrieval.min_score must be in [-1, 1], got %g", c.Retrieval.MinScore)
	check(c.Prompt.TokenBudget > 0, "prompt.token_budget must be positive, got %d", c.Prompt.TokenBudget)
	check(c.Prompt.HistoryBudget >= 0 && c.Prompt.HistoryBudget < c.Prompt.TokenBudget,
		"prompt.history_budget must be in [0, token_budget), got %d", c.Prompt.HistoryBudget)
	check(c.Prompt.HistoryTurns >= 0, "prompt.history_turns must not be negative, got %d", c.Prompt.HistoryTurns)
	check(c.Session.IdleTimeout >= 0, "session.idle_timeout must not be negative, got %s", c.Session.IdleTimeout)

	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderAzure, ProviderHash:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	check(c.Embedding.Dimension > 0, "embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	check(c.Embedding.BatchSize > 0, "embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	check(c.Embedding.Concurrency > 0, "embedding.concurrency must be positive, got %d", c.Embedding.Concurrency)
	check(c.Embedding.RequestsPerSecond >= 0, "embedding.requests_per_second must not be negative")

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAzure, ProviderAnthropic:
	default:
		problems = append(problems, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}
	check(c.LLM.MaxTokens > 0, "llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)

	check(c.Gateway.MaxAttempts >= 1, "gateway.max_attempts must be at least 1, got %d", c.Gateway.MaxAttempts)
	check(c.Gateway.AttemptTimeout >= 0, "gateway.attempt_timeout must not be negative")

	switch c.Index.Backend {
	case BackendMemory:
	case BackendSQLite:
		check(c.Index.Path != "", "index.path is required for the sqlite backend")
	case BackendQdrant:
		check(c.Index.QdrantHost != "", "index.qdrant_host is required for the qdrant backend")
		check(c.Index.QdrantCollection != "", "index.qdrant_collection is required for the qdrant backend")
	case BackendPGVector:
		check(c.Index.PostgresDSN != "", "index.postgres_dsn (DATABASE_URL) is required for the pgvector backend")
	default:
		problems = append(problems, fmt.Sprintf("unknown index.backend %q", c.Index.Backend))
	}

	check(c.IngestConcurrency > 0, "ingest_concurrency must be positive, got %d", c.IngestConcurrency)
	check(c.Server.Mode == "stdio" || c.Server.Mode == "http", "server.mode must be stdio or http, got %q", c.Server.Mode)

	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = fmt.Errorf("%w: %s", ErrConfig, p)
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrConfig, key, v)
	}
	*dst = i
	return nil
}

func getEnvFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", ErrConfig, key, v)
	}
	*dst = f
	return nil
}

func getEnvDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a duration", ErrConfig, key, v)
	}
	*dst = d
	return nil
}
