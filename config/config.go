// Package config loads service settings from defaults, an optional YAML file
// and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension,omitempty"`
}

// LLMConfig adds generation settings to the model selection.
type LLMConfig struct {
	ModelConfig `yaml:",inline"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type ChunkingConfig struct {
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Tokenizer     string `yaml:"tokenizer"`
}

type IngestionConfig struct {
	EmbedBatchSize      int     `yaml:"embed_batch_size"`
	UploadBatchSize     int     `yaml:"upload_batch_size"`
	Concurrency         int     `yaml:"concurrency"`
	DocumentConcurrency int     `yaml:"document_concurrency"`
	EmbedRatePerSecond  float64 `yaml:"embed_rate_per_second"`
}

type SearchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	SnippetLength int           `yaml:"snippet_length"`
}

type AccessConfig struct {
	// PartyMatch is "exact" or "fold".
	PartyMatch string `yaml:"party_match"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	DemoMode  bool   `yaml:"demo_mode"`
	DemoRole  string `yaml:"demo_role"`
}

type Config struct {
	Environment  string `yaml:"environment"`
	DataDir      string `yaml:"data_dir"`
	ManifestPath string `yaml:"manifest_path"`

	Server ServerConfig `yaml:"server"`

	PostgresDSN string      `yaml:"postgres_dsn"`
	Neo4jURI    string      `yaml:"neo4j_uri"`
	Neo4jUser   string      `yaml:"neo4j_username"`
	Neo4jPass   string      `yaml:"neo4j_password"`
	Redis       RedisConfig `yaml:"redis"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	Embeddings ModelConfig     `yaml:"embeddings"`
	LLM        LLMConfig       `yaml:"llm"`
	Chunking   ChunkingConfig  `yaml:"chunking"`
	Ingestion  IngestionConfig `yaml:"ingestion"`
	Search     SearchConfig    `yaml:"search"`
	Access     AccessConfig    `yaml:"access"`
	Auth       AuthConfig      `yaml:"auth"`
}

func Default() Config {
	return Config{
		Environment: "development",
		DataDir:     "data",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  100 << 20,
		},
		PostgresDSN: "postgres://localhost:5432/hearings?sslmode=disable",
		Neo4jURI:    "neo4j://localhost:7687",
		Neo4jUser:   "neo4j",
		Neo4jPass:   "password",
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 10 * time.Minute,
		},
		OllamaHost: "http://localhost:11434",
		Embeddings: ModelConfig{Provider: ProviderOpenAI, Model: "text-embedding-3-large", Dimension: 3072},
		LLM: LLMConfig{
			ModelConfig: ModelConfig{Provider: ProviderOpenAI, Model: "gpt-4o"},
			MaxTokens:   1024,
			Timeout:     2 * time.Minute,
			MaxRetries:  2,
		},
		Chunking: ChunkingConfig{MaxTokens: 512, OverlapTokens: 128, Tokenizer: "cl100k_base"},
		Ingestion: IngestionConfig{
			EmbedBatchSize:      16,
			UploadBatchSize:     100,
			Concurrency:         4,
			DocumentConcurrency: 2,
		},
		Search: SearchConfig{Timeout: 10 * time.Second, SnippetLength: 300},
		Access: AccessConfig{PartyMatch: "exact"},
	}
}

// Load builds the configuration. A .env file in the working directory (or at
// DOTENV_PATH) is read first, then the YAML file named by HEARINGS_CONFIG,
// then individual environment variables.
func Load() (Config, error) {
	dotenv := getEnv("DOTENV_PATH", ".env")
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
	}

	cfg := Default()
	if path := os.Getenv("HEARINGS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
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

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.ManifestPath, "MANIFEST_PATH")
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Neo4jURI, "NEO4J_URI")
	setString(&c.Neo4jUser, "NEO4J_USERNAME")
	setString(&c.Neo4jPass, "NEO4J_PASSWORD")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.OllamaHost, "OLLAMA_HOST")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.Embeddings.Provider, "EMBEDDING_PROVIDER")
	setString(&c.Embeddings.Model, "EMBEDDING_MODEL")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Chunking.Tokenizer, "CHUNK_TOKENIZER")
	setString(&c.Access.PartyMatch, "PARTY_MATCH")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.Issuer, "JWT_ISSUER")
	setString(&c.Auth.DemoRole, "DEMO_ROLE")

	return errors.Join(
		setInt(&c.Redis.DB, "REDIS_DB"),
		setDuration(&c.Redis.CacheTTL, "REDIS_CACHE_TTL"),
		setInt(&c.Embeddings.Dimension, "EMBEDDING_DIMENSION"),
		setInt(&c.Chunking.MaxTokens, "CHUNK_MAX_TOKENS"),
		setInt(&c.Chunking.OverlapTokens, "CHUNK_OVERLAP_TOKENS"),
		setInt(&c.Ingestion.Concurrency, "INGEST_CONCURRENCY"),
		setFloat(&c.Ingestion.EmbedRatePerSecond, "EMBED_RATE_PER_SECOND"),
		setDuration(&c.Search.Timeout, "SEARCH_TIMEOUT"),
		setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS"),
		setDuration(&c.LLM.Timeout, "LLM_TIMEOUT"),
		setBool(&c.Auth.DemoMode, "DEMO_MODE"),
	)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.PostgresDSN != "", "postgres_dsn is required")
	check(isProvider(c.Embeddings.Provider), "unknown embedding provider %q", c.Embeddings.Provider)
	check(isProvider(c.LLM.Provider), "unknown llm provider %q", c.LLM.Provider)
	check(c.Embeddings.Dimension > 0, "embedding dimension must be positive")
	check(c.Chunking.MaxTokens > 0, "chunking.max_tokens must be positive")
	check(c.Chunking.OverlapTokens >= 0 && c.Chunking.OverlapTokens < c.Chunking.MaxTokens,
		"chunking.overlap_tokens must be in [0, max_tokens)")
	check(c.Ingestion.EmbedBatchSize > 0, "ingestion.embed_batch_size must be positive")
	check(c.Ingestion.UploadBatchSize > 0, "ingestion.upload_batch_size must be positive")
	check(c.Ingestion.Concurrency > 0, "ingestion.concurrency must be positive")
	check(c.Search.Timeout > 0, "search.timeout must be positive")
	check(c.Search.SnippetLength > 0, "search.snippet_length must be positive")
	check(c.LLM.MaxTokens >= 0, "llm.max_tokens must not be negative")
	check(c.LLM.MaxRetries >= 0, "llm.max_retries must not be negative")

	match := strings.ToLower(c.Access.PartyMatch)
	check(match == "" || match == "exact" || match == "fold", "access.party_match must be exact or fold, got %q", c.Access.PartyMatch)

	if c.IsProduction() {
		check(c.Auth.JWTSecret != "", "auth.jwt_secret is required in production")
		check(!c.Auth.DemoMode, "auth.demo_mode cannot be enabled in production")
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

func isProvider(p string) bool {
	return p == ProviderOllama || p == ProviderOpenAI
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func setInt(dst *int, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = v
	return nil
}
