// Package config provides unified configuration loading for the RAG engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the RAG engine.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	FastRouter    FastRouterConfig    `yaml:"fastrouter"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Pinecone      PineconeConfig      `yaml:"pinecone"`
	Evaluation    EvaluationConfig    `yaml:"evaluation"`
	Verification  VerificationConfig  `yaml:"verification"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// StorageConfig holds filesystem roots the engine is allowed to touch.
type StorageConfig struct {
	UploadsDirectory     string `yaml:"uploads_directory"`
	VectorStoreDirectory string `yaml:"vector_store_directory"`
}

// FastRouterConfig holds the LLM gateway settings.
type FastRouterConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// LocalURL is an OpenAI-compatible endpoint for the local MiniLM-class
	// model. The local provider stays disabled while this is empty.
	LocalURL  string `yaml:"local_url"`
	BatchSize int    `yaml:"batch_size"`
}

// PineconeConfig holds the default Pinecone credentials. Per-request
// pipeline configs may carry their own key, which takes precedence.
type PineconeConfig struct {
	APIKey string `yaml:"api_key"`
}

// EvaluationConfig holds evaluation engine settings.
type EvaluationConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Directory   string `yaml:"directory"`
}

// VerificationConfig holds the external API key verification service settings.
type VerificationConfig struct {
	URL           string `yaml:"url"`
	ServiceSecret string `yaml:"service_secret"`
}

// CacheConfig holds optional Redis cache settings.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Storage: StorageConfig{
			UploadsDirectory:     "uploads",
			VectorStoreDirectory: filepath.Join("vector_store", "local"),
		},
		FastRouter: FastRouterConfig{
			BaseURL:   "https://go.fastrouter.ai/api/v1",
			MaxTokens: 1024,
		},
		Embedding: EmbeddingConfig{
			BatchSize: 64,
		},
		Evaluation: EvaluationConfig{
			Concurrency: 3,
		},
		Cache: CacheConfig{
			TTL: 15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "rag-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.FastRouter.MaxTokens < 1 {
		return fmt.Errorf("llm max tokens must be a positive integer")
	}

	if c.Storage.UploadsDirectory == "" {
		return fmt.Errorf("uploads directory is required")
	}

	if c.Evaluation.Concurrency < 1 || c.Evaluation.Concurrency > 16 {
		return fmt.Errorf("evaluation concurrency must be between 1 and 16")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

// EvaluationRoots returns the directories evaluation CSV files may live in.
// The uploads directory is always allowed.
func (c *Config) EvaluationRoots() []string {
	roots := []string{}
	if c.Evaluation.Directory != "" {
		roots = append(roots, c.Evaluation.Directory)
	}
	roots = append(roots, c.Storage.UploadsDirectory)
	return roots
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("UPLOADS_DIRECTORY"); v != "" {
		cfg.Storage.UploadsDirectory = v
	}

	if v := os.Getenv("VECTOR_STORE_DIRECTORY"); v != "" {
		cfg.Storage.VectorStoreDirectory = v
	}

	if v := os.Getenv("FASTROUTER_API_KEY"); v != "" {
		cfg.FastRouter.APIKey = v
	}

	if v := os.Getenv("FASTROUTER_BASE_URL"); v != "" {
		cfg.FastRouter.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FastRouter.MaxTokens = n
		}
	}

	if v := os.Getenv("LOCAL_EMBEDDING_URL"); v != "" {
		cfg.Embedding.LocalURL = v
	}

	if v := os.Getenv("PINECONE_API_KEY"); v != "" {
		cfg.Pinecone.APIKey = v
	}

	if v := os.Getenv("EVALUATION_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluation.Concurrency = clampConcurrency(n)
		}
	}

	if v := os.Getenv("EVALUATION_DIRECTORY"); v != "" {
		cfg.Evaluation.Directory = v
	}

	if v := os.Getenv("API_VERIFICATION_URL"); v != "" {
		cfg.Verification.URL = v
	}

	if v := os.Getenv("SERVICE_API_SECRET"); v != "" {
		cfg.Verification.ServiceSecret = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// clampConcurrency keeps the evaluation fan-out within [1, 16].
func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
