// Package vector provides similarity indexes over fixed-dimension item vectors.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/ruiji/internal/models"
)

// Index stores one vector per item id and answers top-k inner product queries.
// Implementations allow concurrent Search calls alongside a single writer.
type Index interface {
	// Build replaces the index contents with entries. Duplicate ids: last wins.
	Build(ctx context.Context, entries []Entry) error
	// Insert adds or replaces a single entry.
	Insert(ctx context.Context, entry Entry) error
	// Remove deletes the entry for id, returning models.ErrNotFound if absent.
	Remove(ctx context.Context, id string) error
	// Search returns at most k hits ordered by score desc, ties by id asc.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Contains(id string) bool
	// Entries returns a copy of all stored entries.
	Entries() []Entry
	Size() int
	Dimensions() int
	// Generation increases on every successful mutation.
	Generation() uint64
	Type() string
	Close() error
}

// Entry is an item id and its vector.
type Entry struct {
	ID     string
	Vector []float32
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    string
	Score float64 // Inner product (cosine similarity for normalized vectors)
}

func checkDimensions(dim int) error {
	if dim <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	return nil
}

func checkVector(id string, vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: %q has %d dimensions, index expects %d", models.ErrDimensionMismatch, id, len(vec), dim)
	}
	return nil
}

// dedupeEntries validates entries and keeps the last vector per id, preserving first-seen order.
func dedupeEntries(entries []Entry, dim int) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, models.ErrEmptyCorpus
	}
	pos := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := checkVector(e.ID, e.Vector, dim); err != nil {
			return nil, err
		}
		vec := make([]float32, dim)
		copy(vec, e.Vector)
		if i, ok := pos[e.ID]; ok {
			out[i].Vector = vec
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, Entry{ID: e.ID, Vector: vec})
	}
	return out, nil
}

func sortResults(r []*VectorResult) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].Score != r[j].Score {
			return r[i].Score > r[j].Score
		}
		return r[i].ID < r[j].ID
	})
}
