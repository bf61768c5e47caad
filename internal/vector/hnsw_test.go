package vector

import (
	"context"
	"math/rand"
	"testing"
)

func TestHNSWIndex_RecallAgainstExact(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	vecs := randomUnitVectors(rng, 1000, 32)
	entries := make([]Entry, len(vecs))
	for i, v := range vecs {
		entries[i] = Entry{ID: idFor(i), Vector: v}
	}

	exact, _ := NewExactIndex(32)
	approx, _ := NewHNSWIndex(32, DefaultHNSWConfig())
	if err := exact.Build(ctx, entries); err != nil {
		t.Fatal(err)
	}
	if err := approx.Build(ctx, entries); err != nil {
		t.Fatal(err)
	}

	queries := randomUnitVectors(rng, 100, 32)
	recall, err := MeasureRecall(ctx, approx, exact, queries, 5)
	if err != nil {
		t.Fatal(err)
	}
	if recall < 0.95 {
		t.Errorf("recall@5=%.3f, want >= 0.95", recall)
	}

	self, err := MeasureRecall(ctx, approx, exact, SampleQueries(entries, 50, 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if self < 0.98 {
		t.Errorf("self recall@1=%.3f, want >= 0.98", self)
	}
}

func TestHNSWIndex_RecallAfterRemovals(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(5))
	vecs := randomUnitVectors(rng, 400, 16)
	entries := make([]Entry, len(vecs))
	for i, v := range vecs {
		entries[i] = Entry{ID: idFor(i), Vector: v}
	}
	approx, _ := NewHNSWIndex(16, HNSWConfig{Seed: 1})
	if err := approx.Build(ctx, entries); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(entries); i += 3 {
		if err := approx.Remove(ctx, entries[i].ID); err != nil {
			t.Fatal(err)
		}
	}
	exact, _ := NewExactIndex(16)
	if err := exact.Build(ctx, approx.Entries()); err != nil {
		t.Fatal(err)
	}
	recall, err := MeasureRecall(ctx, approx, exact, randomUnitVectors(rng, 100, 16), 10)
	if err != nil {
		t.Fatal(err)
	}
	if recall < 0.9 {
		t.Errorf("recall@10 after removals=%.3f, want >= 0.9", recall)
	}
}

func TestHNSWIndex_BuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx, _ := NewHNSWIndex(2, HNSWConfig{})
	err := idx.Build(ctx, []Entry{{ID: "a", Vector: unit(1, 0)}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if idx.Size() != 0 {
		t.Errorf("cancelled build must not publish a graph, size=%d", idx.Size())
	}
}

func TestSampleQueries(t *testing.T) {
	entries := []Entry{{ID: "a", Vector: unit(1, 0)}, {ID: "b", Vector: unit(0, 1)}}
	if got := SampleQueries(entries, 5, 1); len(got) != 2 {
		t.Errorf("expected sample capped at 2, got %d", len(got))
	}
	if got := SampleQueries(nil, 5, 1); got != nil {
		t.Errorf("expected nil for empty entries")
	}
}
