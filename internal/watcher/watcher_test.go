package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu        sync.Mutex
	indexed   []string
	forgotten []string
}

func (s *recordingSink) IndexFile(_ context.Context, path string, _ []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, path)
	return 1, nil
}

func (s *recordingSink) ForgetFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, path)
}

func (s *recordingSink) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indexed...), append([]string(nil), s.forgotten...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	w := NewWatcher(Config{Roots: []string{dir}, Extensions: []string{".csv"}, Recursive: true, Debounce: 100 * time.Millisecond}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fPath := filepath.Join(dir, "feed.csv")
	for i := 0; i < 3; i++ {
		if err := writeFile(fPath, "title\nrow "+string(rune('a'+i))+"\n"); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(dir, "notes.md"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return hasSuffix(indexed, "feed.csv")
	})
	time.Sleep(150 * time.Millisecond)
	indexed, _ := sink.snapshot()
	if len(indexed) != 1 {
		t.Errorf("rapid writes should debounce into one ingest, got %v", indexed)
	}
	if hasSuffix(indexed, "notes.md") {
		t.Error("notes.md should be filtered by extension")
	}

	if err := os.Remove(fPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, forgotten := sink.snapshot()
		return hasSuffix(forgotten, "feed.csv")
	})
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.csv", []string{".csv"}, true},
		{"/a/b.CSV", []string{".csv"}, true},
		{"/a/b.xlsx", []string{"xlsx"}, true},
		{"/a/b.md", []string{".csv"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.csv"), "title\nhello\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := NewWatcher(Config{Roots: []string{dir}, Extensions: []string{".csv"}, Recursive: true}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	indexed, _ := sink.snapshot()
	if len(indexed) != 1 || !strings.HasSuffix(indexed[0], "a.csv") {
		t.Errorf("expected one ingested file a.csv, got %v", indexed)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher(Config{Roots: []string{root}, Recursive: true}, &recordingSink{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
	if dirs := w.Directories(); len(dirs) != 1 || dirs[0] != root {
		t.Errorf("Directories() = %v", dirs)
	}
}

func TestWatcher_NewDirectoryIsIngested(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	w := NewWatcher(Config{Roots: []string{dir}, Extensions: []string{".csv", ".txt"}, Recursive: true, Debounce: 50 * time.Millisecond}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.csv"), "title\ndeep headline\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return hasSuffix(indexed, "deep.csv")
	})
	indexed, _ := sink.snapshot()
	if hasSuffix(indexed, "ignore.xyz") {
		t.Error("ignore.xyz should not be ingested")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(Config{Roots: []string{t.TempDir()}}, &recordingSink{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
