package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after headline are moved first",
			args:     []string{"storm hits coast", "-top-k-final", "2"},
			expected: []string{"-top-k-final", "2", "storm hits coast"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "storm"},
			expected: []string{"-output", "json", "storm"},
		},
		{
			name:     "headline only returns unchanged",
			args:     []string{"storm hits coast"},
			expected: []string{"storm hits coast"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"storm"}, "storm"},
		{[]string{"storm", "hits", "coast"}, "storm hits coast"},
		{[]string{"storm hits coast"}, "storm hits coast"},
		{[]string{}, ""},
		{[]string{"  ", " "}, ""},
	}
	for _, tt := range tests {
		if got := buildQuery(tt.args); got != tt.expected {
			t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_explicitPath(t *testing.T) {
	path := writeConfig(t, "storage:\n  database_path: ./data/ruiji.db\nrecommend:\n  top_k_final: 2\n")
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Recommend.TopKFinal != 2 {
		t.Errorf("TopKFinal = %d", cfg.Recommend.TopKFinal)
	}
	if want := filepath.Join(filepath.Dir(path), "data", "ruiji.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.Storage.DatabasePath, want)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestComposerOptions(t *testing.T) {
	off := false
	path := writeConfig(t, "recommend:\n  top_k_retrieve: 12\n  top_k_final: 4\n  degrade_on_scorer_failure: true\n")
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	opts := composerOptions(cfg)
	if opts.TopKRetrieve != 12 || opts.TopKFinal != 4 || !opts.SelfExclusion || !opts.DegradeOnScorerFailure {
		t.Errorf("opts = %+v", opts)
	}
	cfg.Recommend.SelfExclusion = &off
	if composerOptions(cfg).SelfExclusion {
		t.Error("self exclusion should follow config")
	}
}

func TestInitializeComponents(t *testing.T) {
	path := writeConfig(t, "storage:\n  database_path: ./ruiji.db\nembedding:\n  dimensions: 64\nvector:\n  index_type: faiss\n")
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := c.Indexer.AddItems(ctx, []models.ItemInput{
		{ID: "h1", Text: "Stocks rally as tech shares surge"},
		{ID: "h2", Text: "Tech shares climb in strong market rally"},
		{ID: "h3", Text: "Local team wins championship game"},
	}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.Composer.Recommend(ctx, models.RecommendRequest{ID: "h1", TopKRetrieve: 2, TopKFinal: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Recommendations) != 1 || resp.Recommendations[0].ID != "h2" {
		t.Errorf("recommendations = %+v", resp.Recommendations)
	}
	c.Close()

	// a second start restores the corpus from storage
	c2, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if got := c2.Indexer.Stats().Vectors; got != 3 {
		t.Errorf("reloaded vectors = %d, want 3", got)
	}
}

func TestRecommendViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/recommend" {
			http.NotFound(w, r)
			return
		}
		var req models.RecommendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ID == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.RecommendResponse{
			QueryID:         req.ID,
			Recommendations: []*models.Recommendation{{ID: "h2", Rank: 1}},
		})
	}))
	defer srv.Close()

	resp, err := recommendViaHTTP(srv.URL, &models.RecommendRequest{ID: "h1"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.QueryID != "h1" || len(resp.Recommendations) != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if _, err := recommendViaHTTP(srv.URL, &models.RecommendRequest{ID: "missing"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestWriteStatusText(t *testing.T) {
	disk := int64(4096)
	var buf bytes.Buffer
	writeStatusText(&buf, &statusResponse{
		Index:          indexer.Stats{State: "ready", Items: 3, Vectors: 3, IndexType: "hnsw", Dimensions: 64, Recall: 0.98},
		StoredItems:    3,
		DiskUsageBytes: &disk,
	})
	out := buf.String()
	for _, sub := range []string{"state:              ready", "vectors:            3", "hnsw", "recall:             0.980", "4096"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}
}

func TestBreakerConfig(t *testing.T) {
	path := writeConfig(t, "breaker:\n  failure_threshold: 7\n  timeout: 5s\n")
	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	bc := breakerConfig(cfg, "scorer")
	if bc.Name != "scorer" || bc.FailureThreshold != 7 || bc.Timeout != 5*time.Second {
		t.Errorf("breaker config = %+v", bc)
	}
}
