package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Qdrant      QdrantConfig
	Embedding   EmbeddingConfig
	BM25        BM25Config
	AI          AIConfig
	Rerank      RerankConfig
	Quota       QuotaConfig
	Cache       CacheConfig
	Auth        AuthConfig
	Storage     StorageConfig
	Environment string // local, staging, production
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
	MaxRequestSize int64
}

type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

type EmbeddingConfig struct {
	APIKey string
	Model  string
}

type BM25Config struct {
	ModelPath string
}

type AIConfig struct {
	OpenAI OpenAIConfig
	Claude ClaudeConfig
	Gemini GeminiConfig
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type ClaudeConfig struct {
	APIKey string
	Model  string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type RerankConfig struct {
	URL    string
	APIKey string
	Model  string
}

type QuotaConfig struct {
	SupabaseURL string
	ServiceKey  string
}

type CacheConfig struct {
	Model        string
	CorpusDir    string
	TTL          time.Duration
	DailyCreates int
}

type AuthConfig struct {
	JWTSecret string
}

type StorageConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	CDNDomain string
}

func Load() (*Config, error) {
	environment := getEnv("ENVIRONMENT", "local")

	var defaultOrigins string
	if environment == "local" {
		defaultOrigins = "http://localhost:3000,http://localhost:5173"
	}

	qdrantPort, err := parseEnvInt("QDRANT_PORT", 6334)
	if err != nil {
		return nil, err
	}

	maxRequestSize, err := parseEnvInt64("MAX_REQUEST_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parseEnvDuration("CACHE_TTL", 8*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Port:           os.Getenv("PORT"), // no default so validation catches it
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", defaultOrigins),
			MaxRequestSize: maxRequestSize,
		},
		Qdrant: QdrantConfig{
			Host:   getEnv("QDRANT_HOST", ""),
			Port:   qdrantPort,
			APIKey: getEnv("QDRANT_API_KEY", ""),
			UseTLS: getEnvBool("QDRANT_USE_TLS", environment != "local"),
		},
		Embedding: EmbeddingConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		BM25: BM25Config{
			ModelPath: getEnv("BM25_MODEL_PATH", "models/bm25_stats.json"),
		},
		AI: AIConfig{
			OpenAI: OpenAIConfig{
				APIKey: getEnv("OPENAI_API_KEY", ""),
				Model:  getEnv("OPENAI_MODEL", "gpt-4o"),
			},
			Claude: ClaudeConfig{
				APIKey: getEnv("CLAUDE_API_KEY", ""),
				Model:  getEnv("CLAUDE_MODEL", "claude-sonnet-4-20250514"),
			},
			Gemini: GeminiConfig{
				APIKey: getEnv("GEMINI_API_KEY", ""),
				Model:  getEnv("GEMINI_MODEL", "gemini-2.0-flash-001"),
			},
		},
		Rerank: RerankConfig{
			URL:    getEnv("RERANK_URL", ""),
			APIKey: getEnv("RERANK_API_KEY", ""),
			Model:  getEnv("RERANK_MODEL", "rerank-multilingual-v3.0"),
		},
		Quota: QuotaConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			ServiceKey:  getEnv("SUPABASE_SERVICE_KEY", ""),
		},
		Cache: CacheConfig{
			Model:        getEnv("CACHE_MODEL", "gemini-2.0-flash-001"),
			CorpusDir:    getEnv("CACHE_CORPUS_DIR", "cache_corpus"),
			TTL:          cacheTTL,
			DailyCreates: getEnvInt("CACHE_MAX_DAILY_CREATES", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			AccessKey: getEnv("STORAGE_ACCESS_KEY", getEnv("DO_SPACES_KEY", "")),
			SecretKey: getEnv("STORAGE_SECRET_KEY", getEnv("DO_SPACES_SECRET", "")),
			Bucket:    getEnv("STORAGE_BUCKET", getEnv("DO_SPACES_BUCKET", "")),
			Region:    getEnv("STORAGE_REGION", getEnv("DO_SPACES_REGION", "nyc3")),
			CDNDomain: getEnv("STORAGE_CDN_DOMAIN", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQdrant(); err != nil {
		return err
	}
	return c.validateAI()
}

func (c *Config) validateServer() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateQdrant() error {
	if c.Qdrant.Host == "" {
		return fmt.Errorf("QDRANT_HOST is required")
	}
	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("QDRANT_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateAI() error {
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for embeddings")
	}
	if c.AI.Claude.APIKey == "" && c.AI.Gemini.APIKey == "" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("at least one chat provider API key is required")
	}
	return nil
}

// IsLocal returns true in local development.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func parseEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number", key)
	}
	return intValue, nil
}

func parseEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number", key)
	}
	return intValue, nil
}

func parseEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration", key)
	}
	return duration, nil
}
