package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/ruiji/data/ruiji.db"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/ruiji/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == "ollama" {
			cfg.Embedding.Dimensions = 768
		} else {
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.OllamaModel == "" {
		cfg.Embedding.OllamaModel = "nomic-embed-text"
	}
	if cfg.Embedding.BatchConcurrency == 0 {
		cfg.Embedding.BatchConcurrency = 4
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 10 * time.Second
	}

	if cfg.Scorer.Type == "" {
		cfg.Scorer.Type = "lexical"
	}
	if cfg.Scorer.Analyzer == "" {
		cfg.Scorer.Analyzer = "en"
	}
	if cfg.Scorer.Type == "cross-encoder" && cfg.Scorer.ModelPath == "" {
		cfg.Scorer.ModelPath = "/usr/local/var/ruiji/data/models/ms-marco-MiniLM-L-6-v2.onnx"
	}
	if cfg.Scorer.MaxTokens == 0 {
		cfg.Scorer.MaxTokens = 512
	}
	if cfg.Scorer.Concurrency == 0 {
		cfg.Scorer.Concurrency = 8
	}

	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "exact"
	}
	if cfg.Vector.M == 0 {
		cfg.Vector.M = 16
	}
	if cfg.Vector.EfConstruction == 0 {
		cfg.Vector.EfConstruction = 200
	}
	if cfg.Vector.EfSearch == 0 {
		cfg.Vector.EfSearch = 64
	}
	if cfg.Vector.Seed == 0 {
		cfg.Vector.Seed = 42
	}
	if cfg.Vector.RecallThreshold == 0 {
		cfg.Vector.RecallThreshold = 0.95
	}
	if cfg.Vector.RecallSampleSize == 0 {
		cfg.Vector.RecallSampleSize = 100
	}

	if cfg.Recommend.TopKRetrieve == 0 {
		cfg.Recommend.TopKRetrieve = 5
	}
	if cfg.Recommend.TopKFinal == 0 {
		cfg.Recommend.TopKFinal = 3
	}
	// Self-exclusion defaults to true when unset (nil).
	if cfg.Recommend.SelfExclusion == nil {
		t := true
		cfg.Recommend.SelfExclusion = &t
	}
	if cfg.Recommend.MaxAttempts == 0 {
		cfg.Recommend.MaxAttempts = 3
	}
	if cfg.Recommend.InitialBackoff == 0 {
		cfg.Recommend.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.Recommend.MaxBackoff == 0 {
		cfg.Recommend.MaxBackoff = time.Second
	}
	if cfg.Recommend.MaxRestarts == 0 {
		cfg.Recommend.MaxRestarts = 2
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 1
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".csv", ".xlsx", ".txt"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
