package vector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/ruiji/internal/models"
)

// ExactIndex is a brute-force inner product index. Writers publish immutable snapshots,
// so searches never block on writers and never see a partially applied mutation.
type ExactIndex struct {
	dimensions int
	snap       atomic.Pointer[exactSnapshot]
	generation atomic.Uint64
	mu         sync.Mutex // serializes writers
}

type exactSnapshot struct {
	ids     []string
	vectors [][]float32
	pos     map[string]int
}

func newExactSnapshot(entries []Entry) *exactSnapshot {
	s := &exactSnapshot{
		ids:     make([]string, len(entries)),
		vectors: make([][]float32, len(entries)),
		pos:     make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		s.ids[i] = e.ID
		s.vectors[i] = e.Vector
		s.pos[e.ID] = i
	}
	return s
}

func (s *exactSnapshot) entries() []Entry {
	out := make([]Entry, len(s.ids))
	for i, id := range s.ids {
		out[i] = Entry{ID: id, Vector: s.vectors[i]}
	}
	return out
}

// NewExactIndex creates an exact index with the given dimension.
func NewExactIndex(dimensions int) (*ExactIndex, error) {
	if err := checkDimensions(dimensions); err != nil {
		return nil, err
	}
	idx := &ExactIndex{dimensions: dimensions}
	idx.snap.Store(newExactSnapshot(nil))
	return idx, nil
}

// Type returns the index type identifier.
func (e *ExactIndex) Type() string {
	return string(IndexTypeExact)
}

// Build replaces all contents with entries.
func (e *ExactIndex) Build(ctx context.Context, entries []Entry) error {
	deduped, err := dedupeEntries(entries, e.dimensions)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Store(newExactSnapshot(deduped))
	e.generation.Add(1)
	return nil
}

// Insert adds or replaces one entry.
func (e *ExactIndex) Insert(ctx context.Context, entry Entry) error {
	if err := checkVector(entry.ID, entry.Vector, e.dimensions); err != nil {
		return err
	}
	vec := make([]float32, e.dimensions)
	copy(vec, entry.Vector)

	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.snap.Load().entries()
	if i, ok := e.snap.Load().pos[entry.ID]; ok {
		entries[i].Vector = vec
	} else {
		entries = append(entries, Entry{ID: entry.ID, Vector: vec})
	}
	e.snap.Store(newExactSnapshot(entries))
	e.generation.Add(1)
	return nil
}

// Remove deletes the entry for id.
func (e *ExactIndex) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.snap.Load()
	i, ok := cur.pos[id]
	if !ok {
		return fmt.Errorf("%w: vector %q", models.ErrNotFound, id)
	}
	entries := cur.entries()
	entries = append(entries[:i], entries[i+1:]...)
	e.snap.Store(newExactSnapshot(entries))
	e.generation.Add(1)
	return nil
}

// Search scans every vector and returns the top-k by inner product.
func (e *ExactIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkVector("query", query, e.dimensions); err != nil {
		return nil, err
	}
	s := e.snap.Load()
	if len(s.ids) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	scores := make([]*VectorResult, len(s.ids))
	for i, vec := range s.vectors {
		scores[i] = &VectorResult{ID: s.ids[i], Score: InnerProduct(query, vec)}
	}
	sortResults(scores)
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Contains reports whether id has a vector.
func (e *ExactIndex) Contains(id string) bool {
	_, ok := e.snap.Load().pos[id]
	return ok
}

// Entries returns a copy of all entries in insertion order.
func (e *ExactIndex) Entries() []Entry {
	out := e.snap.Load().entries()
	for i := range out {
		vec := make([]float32, len(out[i].Vector))
		copy(vec, out[i].Vector)
		out[i].Vector = vec
	}
	return out
}

// Size returns the number of vectors in the index.
func (e *ExactIndex) Size() int {
	return len(e.snap.Load().ids)
}

// Dimensions returns the vector dimension.
func (e *ExactIndex) Dimensions() int {
	return e.dimensions
}

// Generation returns the mutation counter.
func (e *ExactIndex) Generation() uint64 {
	return e.generation.Load()
}

// Close is a no-op for ExactIndex.
func (e *ExactIndex) Close() error {
	return nil
}
