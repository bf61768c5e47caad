package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/ruiji/internal/corpus"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/xuri/excelize/v2"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".csv", []string{".csv", ".xlsx"}, true},
		{".CSV", []string{".csv"}, true},
		{".xlsx", []string{"csv", "xlsx"}, true},
		{".go", []string{".csv"}, false},
		{"", []string{".csv"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func testIndexerWithStorage(t *testing.T, dir string, cfg Config) (*Indexer, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewHashEmbedder(64)
	idx, err := NewIndexer(corpus.NewRegistry(), embedder, cfg, WithStorage(store))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, store
}

func TestAddAndRemoveItems(t *testing.T) {
	dir := t.TempDir()
	idx, store := testIndexerWithStorage(t, dir, Config{IndexType: "exact"})
	ctx := context.Background()

	if idx.State() != StateEmpty {
		t.Errorf("initial state = %s", idx.State())
	}
	ids, err := idx.AddItems(ctx, []models.ItemInput{
		{ID: "h1", Text: "Stocks rally as tech shares surge"},
		{Text: "  Local team   wins championship game "},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "h1" || ids[1] == "" {
		t.Fatalf("ids = %v", ids)
	}
	if idx.State() != StateReady {
		t.Errorf("state after add = %s", idx.State())
	}
	if !idx.Index().Contains(ids[1]) {
		t.Error("added item missing from index")
	}
	text, _ := idx.Registry().Text(ids[1])
	if text != "Local team wins championship game" {
		t.Errorf("text not preprocessed: %q", text)
	}
	if n, _ := store.CountItems(ctx); n != 2 {
		t.Errorf("stored items = %d", n)
	}

	// Same id and text again is a no-op.
	if _, err := idx.AddItem(ctx, models.ItemInput{ID: "h1", Text: "Stocks rally as tech shares surge"}); err != nil {
		t.Errorf("idempotent add: %v", err)
	}
	if _, err := idx.AddItem(ctx, models.ItemInput{ID: "h1", Text: "Different"}); !errors.Is(err, models.ErrDuplicateID) {
		t.Errorf("conflicting add: got %v", err)
	}
	if _, err := idx.AddItem(ctx, models.ItemInput{Text: "   "}); !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("blank text: got %v", err)
	}

	if err := idx.RemoveItem(ctx, "h1"); err != nil {
		t.Fatal(err)
	}
	if idx.Index().Contains("h1") || idx.Registry().Contains("h1") {
		t.Error("h1 should be gone from index and registry")
	}
	if _, err := store.GetItem(ctx, "h1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("h1 should be gone from storage, got %v", err)
	}
	if err := idx.RemoveItem(ctx, "h1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second remove: got %v", err)
	}
}

type flakyStore struct {
	storage.Storage
	fail bool
}

func (f *flakyStore) BatchSaveItems(ctx context.Context, items []storage.StoredItem) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Storage.BatchSaveItems(ctx, items)
}

func TestAddItems_PersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := &flakyStore{Storage: db}
	idx, err := NewIndexer(corpus.NewRegistry(), embedding.NewHashEmbedder(64), Config{IndexType: "exact"}, WithStorage(store))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.AddItem(ctx, models.ItemInput{ID: "h1", Text: "Stocks rally as tech shares surge"}); err != nil {
		t.Fatal(err)
	}

	store.fail = true
	batch := []models.ItemInput{
		{ID: "h2", Text: "Tech shares climb in strong market rally"},
		{Text: "Local team wins championship game"},
	}
	if _, err := idx.AddItems(ctx, batch); err == nil {
		t.Fatal("expected persist error")
	}
	if idx.Registry().Len() != 1 || idx.Registry().Contains("h2") {
		t.Errorf("registry has %d items after failed add, want 1", idx.Registry().Len())
	}
	if idx.Index().Size() != 1 || idx.Index().Contains("h2") {
		t.Errorf("index has %d vectors after failed add, want 1", idx.Index().Size())
	}
	if idx.State() != StateReady {
		t.Errorf("state = %s, want ready", idx.State())
	}

	store.fail = false
	ids, err := idx.AddItems(ctx, batch)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(ids) != 2 || ids[0] != "h2" {
		t.Errorf("ids = %v", ids)
	}
	n, err := db.CountItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("stored %d items after retry, want 3", n)
	}
}

func TestBuildAndLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	idx, _ := testIndexerWithStorage(t, dir, Config{IndexType: "exact"})

	if err := idx.Build(ctx); !errors.Is(err, models.ErrEmptyCorpus) {
		t.Errorf("build on empty corpus: got %v", err)
	}
	if idx.State() != StateEmpty {
		t.Errorf("failed build should restore state, got %s", idx.State())
	}
	if _, err := idx.AddItems(ctx, []models.ItemInput{
		{ID: "a", Text: "first headline"},
		{ID: "b", Text: "second headline"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(ctx); err != nil {
		t.Fatal(err)
	}
	if idx.Index().Size() != 2 || idx.State() != StateReady {
		t.Errorf("after build: size=%d state=%s", idx.Index().Size(), idx.State())
	}

	// A fresh indexer over the same database restores the corpus.
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	reloaded, err := NewIndexer(corpus.NewRegistry(), embedding.NewHashEmbedder(64), Config{IndexType: "hnsw", HNSW: vector.HNSWConfig{Seed: 1}}, WithStorage(store))
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	n, err := reloaded.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || !reloaded.Index().Contains("a") || reloaded.State() != StateReady {
		t.Errorf("load: n=%d state=%s", n, reloaded.State())
	}
	if st := reloaded.Stats(); st.Items != 2 || st.Vectors != 2 || st.IndexType != "hnsw" {
		t.Errorf("stats = %+v", st)
	}
}

func TestBuild_RecallFallback(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIndexer(corpus.NewRegistry(), embedding.NewHashEmbedder(32), Config{
		IndexType:        "hnsw",
		HNSW:             vector.HNSWConfig{Seed: 3},
		RecallThreshold:  1.1,
		RecallSampleSize: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.AddItems(ctx, []models.ItemInput{
		{ID: "a", Text: "markets rally"}, {ID: "b", Text: "team wins"}, {ID: "c", Text: "rain expected"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Build(ctx); err != nil {
		t.Fatal(err)
	}
	if got := idx.Index().Type(); got != "exact" {
		t.Errorf("unreachable threshold should fall back to exact, got %s", got)
	}
	if idx.Stats().Recall <= 0 {
		t.Error("recall should be recorded")
	}
}

func TestNewIndexer_UnknownType(t *testing.T) {
	_, err := NewIndexer(corpus.NewRegistry(), embedding.NewHashEmbedder(8), Config{IndexType: "annoy"})
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestIndexFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	idx, _ := testIndexerWithStorage(t, dir, Config{})
	ctx := context.Background()

	fPath := filepath.Join(dir, "feed.csv")
	if err := os.WriteFile(fPath, []byte("id,title\nn1,Markets open higher\nn2,Storm hits the coast\n"), 0600); err != nil {
		t.Fatal(err)
	}
	n, err := idx.IndexFile(ctx, fPath, []string{".csv"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || idx.Registry().Len() != 2 {
		t.Fatalf("indexed %d, registry has %d", n, idx.Registry().Len())
	}
	item, _ := idx.Registry().Get("n1")
	if item.Metadata["source"] != "feed.csv" {
		t.Errorf("metadata source = %v", item.Metadata["source"])
	}

	// Unchanged file is skipped.
	if n, _ := idx.IndexFile(ctx, fPath, nil); n != 0 {
		t.Errorf("unchanged file re-read %d items", n)
	}

	if err := os.WriteFile(fPath, []byte("id,title\nn1,Markets close lower\n"), 0600); err != nil {
		t.Fatal(err)
	}
	idx.ForgetFile(fPath)
	if _, err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	text, _ := idx.Registry().Text("n1")
	if text != "Markets close lower" {
		t.Errorf("after update: text=%q", text)
	}
	if !idx.Index().Contains("n1") {
		t.Error("replaced item should be indexed")
	}
}

func TestIndexFile_extensionFiltered(t *testing.T) {
	dir := t.TempDir()
	idx, _ := testIndexerWithStorage(t, dir, Config{})

	fPath := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(fPath, []byte("#!/bin/bash"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexFile(context.Background(), fPath, []string{".csv"}); err == nil {
		t.Error("expected error for disallowed extension")
	}
}

func TestIndexFile_notRegularFile(t *testing.T) {
	dir := t.TempDir()
	idx, _ := testIndexerWithStorage(t, dir, Config{})
	if _, err := idx.IndexFile(context.Background(), dir, nil); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := idx.IndexFile(context.Background(), filepath.Join(dir, "missing.csv"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	idx, _ := testIndexerWithStorage(t, dir, Config{})
	ctx := context.Background()

	feeds := filepath.Join(dir, "feeds")
	sub := filepath.Join(feeds, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(feeds, "a.csv"), []byte("title\nfile a headline\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.txt"), []byte("file b headline\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(feeds, "skip.xyz"), []byte("skip"), 0600); err != nil {
		t.Fatal(err)
	}
	x := excelize.NewFile()
	x.SetCellValue("Sheet1", "A1", "title")
	x.SetCellValue("Sheet1", "A2", "excel headline")
	if err := x.SaveAs(filepath.Join(sub, "c.xlsx")); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	x.Close()

	n, err := idx.IndexDirectory(ctx, feeds, nil)
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if n != 3 {
		t.Errorf("IndexDirectory: indexed %d files, want 3", n)
	}
	if idx.Registry().Len() != 3 {
		t.Errorf("registry has %d items, want 3", idx.Registry().Len())
	}
}

func TestBuild_ResolvedIndexKeepsServing(t *testing.T) {
	for _, typ := range []string{"exact", "hnsw"} {
		t.Run(typ, func(t *testing.T) {
			ctx := context.Background()
			embedder := embedding.NewHashEmbedder(64)
			idx, err := NewIndexer(corpus.NewRegistry(), embedder, Config{IndexType: typ})
			if err != nil {
				t.Fatal(err)
			}
			defer idx.Close()
			_, err = idx.AddItems(ctx, []models.ItemInput{
				{ID: "h1", Text: "Stocks rally as tech shares surge"},
				{ID: "h2", Text: "Tech shares climb in strong market rally"},
				{ID: "h3", Text: "Local team wins championship game"},
			})
			if err != nil {
				t.Fatal(err)
			}
			q, err := embedder.Embed(ctx, "tech shares rally")
			if err != nil {
				t.Fatal(err)
			}

			inflight := idx.Index()
			if err := idx.Build(ctx); err != nil {
				t.Fatal(err)
			}
			if idx.Index() == inflight {
				t.Fatal("Build did not swap in a new index")
			}
			res, err := inflight.Search(ctx, q, 2)
			if err != nil {
				t.Fatalf("search on previous index: %v", err)
			}
			if len(res) != 2 {
				t.Errorf("previous index returned %d results, want 2", len(res))
			}
		})
	}
}

func TestConcurrentQueriesDuringMutations(t *testing.T) {
	for _, typ := range []string{"exact", "hnsw"} {
		t.Run(typ, func(t *testing.T) {
			testConcurrentQueriesDuringMutations(t, typ)
		})
	}
}

func testConcurrentQueriesDuringMutations(t *testing.T, typ string) {
	ctx := context.Background()
	idx, err := NewIndexer(corpus.NewRegistry(), embedding.NewHashEmbedder(32), Config{IndexType: typ})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, err := idx.AddItem(ctx, models.ItemInput{ID: "seed", Text: "seed headline"}); err != nil {
		t.Fatal(err)
	}
	q, _ := embedding.NewHashEmbedder(32).Embed(ctx, "headline")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// seed is never removed, so every index a query can resolve is non-empty.
				res, err := idx.Index().Search(ctx, q, 5)
				if err != nil {
					errs <- err
					return
				}
				if len(res) == 0 {
					errs <- errors.New("no results from a non-empty index")
					return
				}
				for _, r := range res {
					if r.ID == "" {
						errs <- errors.New("empty id in results")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		id, err := idx.AddItem(ctx, models.ItemInput{Text: "headline number " + string(rune('a'+i%26)) + string(rune('a'+i/26))})
		if err != nil {
			t.Fatal(err)
		}
		if i%5 == 0 {
			if err := idx.Build(ctx); err != nil {
				t.Fatal(err)
			}
		}
		if i%2 == 0 {
			if err := idx.RemoveItem(ctx, id); err != nil {
				t.Fatal(err)
			}
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent search failed: %v", err)
	}
	if idx.Index().Size() != idx.Registry().Len() {
		t.Errorf("index size %d != registry size %d", idx.Index().Size(), idx.Registry().Len())
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Stocks rally  ", "Stocks rally"},
		{"Stocks\t\trally\nagain", "Stocks rally again"},
		{"\ufeffStocks rally", "Stocks rally"},
		{"Stocks\u200b rally", "Stocks rally"},
		{"股市\u3000大涨", "股市 大涨"},
		{"bad \ufffd byte", "bad byte"},
		{"\x00\x07", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
