package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ruiji/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
recommend:
  top_k_retrieve: 10
  top_k_final: 4
  initial_backoff: 20ms
vector:
  index_type: hnsw
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Recommend.TopKRetrieve != 10 || cfg.Recommend.TopKFinal != 4 {
		t.Errorf("unexpected recommend config: %+v", cfg.Recommend)
	}
	if cfg.Recommend.InitialBackoff != 20*time.Millisecond {
		t.Errorf("initial_backoff = %s", cfg.Recommend.InitialBackoff)
	}
	if cfg.Vector.IndexType != "hnsw" {
		t.Errorf("index_type = %s", cfg.Vector.IndexType)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	t.Setenv("RUIJI_SERVER_PORT", "9100")
	t.Setenv("RUIJI_DEBUG", "true")
	t.Setenv("RUIJI_RECOMMEND_SELF_EXCLUSION", "false")
	t.Setenv("RUIJI_WATCH_DIRECTORIES", "./a,./b")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if !cfg.Debug {
		t.Error("debug should come from the environment")
	}
	if cfg.Recommend.SelfExclusionOrDefault() {
		t.Error("self exclusion should be disabled by the environment")
	}
	if len(cfg.Watch.Directories) != 2 || cfg.Watch.Directories[1] != filepath.Join(filepath.Dir(path), "b") {
		t.Errorf("watch directories = %v", cfg.Watch.Directories)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/ruiji.db"
watch:
  directories: ["./feeds"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "ruiji.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "feeds"); len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != want {
		t.Errorf("watch directories = %v, want [%s]", cfg.Watch.Directories, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"final above retrieve": "recommend:\n  top_k_retrieve: 2\n  top_k_final: 3\n",
		"unknown provider":     "embedding:\n  provider: word2vec\n",
		"unknown scorer":       "scorer:\n  type: bm42\n",
		"unknown index":        "vector:\n  index_type: annoy\n",
		"recall above one":     "vector:\n  recall_threshold: 1.5\n",
		"backoff order":        "recommend:\n  initial_backoff: 2s\n  max_backoff: 1s\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			if !errors.Is(err, models.ErrInvalidConfig) {
				t.Errorf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Recommend.TopKRetrieve != 5 || cfg.Recommend.TopKFinal != 3 {
		t.Errorf("default top-k: %d/%d", cfg.Recommend.TopKRetrieve, cfg.Recommend.TopKFinal)
	}
	if !cfg.Recommend.SelfExclusionOrDefault() {
		t.Error("self exclusion should default to true")
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if cfg.Scorer.Type != "lexical" || cfg.Vector.IndexType != "exact" {
		t.Errorf("default scorer/index: %s/%s", cfg.Scorer.Type, cfg.Vector.IndexType)
	}
	if len(cfg.Watch.Extensions) != 3 || cfg.Watch.Extensions[0] != ".csv" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	ollama := &Config{Embedding: EmbeddingConfig{Provider: "ollama"}}
	ApplyDefaults(ollama)
	if ollama.Embedding.Dimensions != 768 {
		t.Errorf("ollama default dimensions = %d", ollama.Embedding.Dimensions)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/feeds"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestLoadDefault(t *testing.T) {
	t.Setenv("RUIJI_VECTOR_INDEX_TYPE", "hnsw")
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.IndexType != "hnsw" {
		t.Errorf("index type = %s", cfg.Vector.IndexType)
	}
}
