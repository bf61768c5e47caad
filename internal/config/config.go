// Package config provides configuration loading and structs for the ruiji server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/ruiji/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. RUIJI_SERVER_PORT.
const EnvPrefix = "RUIJI_"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug" env:"DEBUG"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Embedding EmbeddingConfig `yaml:"embedding" envPrefix:"EMBEDDING_"`
	Scorer    ScorerConfig    `yaml:"scorer" envPrefix:"SCORER_"`
	Vector    VectorConfig    `yaml:"vector" envPrefix:"VECTOR_"`
	Recommend RecommendConfig `yaml:"recommend" envPrefix:"RECOMMEND_"`
	Breaker   BreakerConfig   `yaml:"breaker" envPrefix:"BREAKER_"`
	Watch     WatchConfig     `yaml:"watch" envPrefix:"WATCH_"`
}

// WatchConfig holds feed directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories" env:"DIRECTORIES" envSeparator:","`
	Extensions  []string      `yaml:"extensions" env:"EXTENSIONS" envSeparator:","`
	Recursive   *bool         `yaml:"recursive" env:"RECURSIVE"`
	Debounce    time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// StorageConfig holds the database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"` // hash, onnx, ollama
	ModelPath        string        `yaml:"model_path" env:"MODEL_PATH"`
	Dimensions       int           `yaml:"dimensions" env:"DIMENSIONS"`
	MaxTokens        int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	CacheSize        int           `yaml:"cache_size" env:"CACHE_SIZE"`
	OllamaURL        string        `yaml:"ollama_url" env:"OLLAMA_URL"`
	OllamaModel      string        `yaml:"ollama_model" env:"OLLAMA_MODEL"`
	BatchConcurrency int           `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ScorerConfig selects and tunes the pairwise scorer.
type ScorerConfig struct {
	Type        string `yaml:"type" env:"TYPE"` // lexical, cosine, cross-encoder
	Analyzer    string `yaml:"analyzer" env:"ANALYZER"`
	ModelPath   string `yaml:"model_path" env:"MODEL_PATH"`
	MaxTokens   int    `yaml:"max_tokens" env:"MAX_TOKENS"`
	Concurrency int    `yaml:"concurrency" env:"CONCURRENCY"`
}

// VectorConfig selects the similarity index and its recall check.
type VectorConfig struct {
	IndexType        string  `yaml:"index_type" env:"INDEX_TYPE"` // exact, hnsw, faiss
	M                int     `yaml:"m" env:"M"`
	EfConstruction   int     `yaml:"ef_construction" env:"EF_CONSTRUCTION"`
	EfSearch         int     `yaml:"ef_search" env:"EF_SEARCH"`
	Seed             int64   `yaml:"seed" env:"SEED"`
	RecallThreshold  float64 `yaml:"recall_threshold" env:"RECALL_THRESHOLD"`
	RecallSampleSize int     `yaml:"recall_sample_size" env:"RECALL_SAMPLE_SIZE"`
}

// RecommendConfig holds pipeline defaults.
type RecommendConfig struct {
	TopKRetrieve           int           `yaml:"top_k_retrieve" env:"TOP_K_RETRIEVE"`
	TopKFinal              int           `yaml:"top_k_final" env:"TOP_K_FINAL"`
	SelfExclusion          *bool         `yaml:"self_exclusion" env:"SELF_EXCLUSION"`
	MaxAttempts            int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff         time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff             time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	DegradeOnScorerFailure bool          `yaml:"degrade_on_scorer_failure" env:"DEGRADE_ON_SCORER_FAILURE"`
	MaxRestarts            int           `yaml:"max_restarts" env:"MAX_RESTARTS"`
}

// SelfExclusionOrDefault returns whether query items are excluded; defaults to true when unset.
func (r *RecommendConfig) SelfExclusionOrDefault() bool {
	if r.SelfExclusion != nil {
		return *r.SelfExclusion
	}
	return true
}

// BreakerConfig holds circuit breaker settings shared by the embedder and scorer.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	MaxRequests      uint32        `yaml:"max_requests" env:"MAX_REQUESTS"`
	Interval         time.Duration `yaml:"interval" env:"INTERVAL"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Load reads and parses the config file at path, applies RUIJI_* environment overrides,
// expands paths, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// LoadDefault returns the default configuration with environment overrides applied.
// Relative paths resolve against the working directory.
func LoadDefault() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Scorer.ModelPath != "" {
		cfg.Scorer.ModelPath = expandPath(cfg.Scorer.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Errors wrap models.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	if err := models.ValidateTopK(c.Recommend.TopKRetrieve, c.Recommend.TopKFinal); err != nil {
		errs = append(errs, err)
	}
	switch c.Embedding.Provider {
	case "hash", "onnx", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q (supported: hash, onnx, ollama)", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	switch c.Scorer.Type {
	case "lexical", "cosine", "cross-encoder":
	default:
		errs = append(errs, fmt.Errorf("unknown scorer type %q (supported: lexical, cosine, cross-encoder)", c.Scorer.Type))
	}
	switch c.Vector.IndexType {
	case "exact", "memory", "hnsw", "faiss":
	default:
		errs = append(errs, fmt.Errorf("unknown index type %q (supported: exact, hnsw, faiss)", c.Vector.IndexType))
	}
	if c.Vector.RecallThreshold < 0 || c.Vector.RecallThreshold > 1 {
		errs = append(errs, fmt.Errorf("recall_threshold must be within [0, 1], got %g", c.Vector.RecallThreshold))
	}
	if c.Recommend.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.Recommend.MaxAttempts))
	}
	if c.Recommend.InitialBackoff > c.Recommend.MaxBackoff {
		errs = append(errs, fmt.Errorf("initial_backoff %s exceeds max_backoff %s", c.Recommend.InitialBackoff, c.Recommend.MaxBackoff))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrInvalidConfig, errors.Join(errs...))
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
