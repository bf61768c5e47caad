//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hyperjump/ruiji/internal/models"
)

// FAISSIndex is an exact inner product index backed by FAISS IndexFlatIP.
// Removed or replaced vectors stay in FAISS as tombstones until the next compaction.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	idToIntID  map[string]int64 // string ID -> FAISS internal int64 ID
	intIDToID  map[int64]string // FAISS internal int64 ID -> string ID
	vectors    map[string][]float32
	nextID     int64
	generation atomic.Uint64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if err := checkDimensions(dimensions); err != nil {
		return nil, err
	}
	index, err := newFlatIP(dimensions)
	if err != nil {
		return nil, err
	}
	f := &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		idToIntID:  make(map[string]int64),
		intIDToID:  make(map[int64]string),
		vectors:    make(map[string][]float32),
	}
	// A swapped-out index is never closed explicitly, so the C side is freed with the Go value.
	runtime.SetFinalizer(f, (*FAISSIndex).free)
	return f, nil
}

func (f *FAISSIndex) free() {
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
}

func newFlatIP(dimensions int) (*C.FaissIndexFlatIP, error) {
	var index *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return index, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Build replaces the FAISS index with entries.
func (f *FAISSIndex) Build(ctx context.Context, entries []Entry) error {
	deduped, err := dedupeEntries(entries, f.dimensions)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.resetLocked(); err != nil {
		return err
	}
	if err := f.addLocked(deduped); err != nil {
		return err
	}
	f.generation.Add(1)
	return nil
}

// Insert adds or replaces one entry.
func (f *FAISSIndex) Insert(ctx context.Context, entry Entry) error {
	if err := checkVector(entry.ID, entry.Vector, f.dimensions); err != nil {
		return err
	}
	vec := make([]float32, f.dimensions)
	copy(vec, entry.Vector)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLocked(entry.ID)
	if err := f.addLocked([]Entry{{ID: entry.ID, Vector: vec}}); err != nil {
		return err
	}
	if err := f.maybeCompactLocked(); err != nil {
		return err
	}
	f.generation.Add(1)
	return nil
}

// Remove drops the id mapping; the FAISS row becomes a tombstone.
func (f *FAISSIndex) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.idToIntID[id]; !ok {
		return fmt.Errorf("%w: vector %q", models.ErrNotFound, id)
	}
	f.dropLocked(id)
	if err := f.maybeCompactLocked(); err != nil {
		return err
	}
	f.generation.Add(1)
	return nil
}

func (f *FAISSIndex) dropLocked(id string) {
	if intID, ok := f.idToIntID[id]; ok {
		delete(f.intIDToID, intID)
		delete(f.idToIntID, id)
		delete(f.vectors, id)
	}
}

func (f *FAISSIndex) addLocked(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	flat := make([]float32, len(entries)*f.dimensions)
	for i, e := range entries {
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], e.Vector)
	}
	ret := C.faiss_Index_add(f.index, C.idx_t(len(entries)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, e := range entries {
		f.idToIntID[e.ID] = f.nextID
		f.intIDToID[f.nextID] = e.ID
		f.vectors[e.ID] = e.Vector
		f.nextID++
	}
	return nil
}

func (f *FAISSIndex) resetLocked() error {
	index, err := newFlatIP(f.dimensions)
	if err != nil {
		return err
	}
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = index
	f.idToIntID = make(map[string]int64)
	f.intIDToID = make(map[int64]string)
	f.vectors = make(map[string][]float32)
	f.nextID = 0
	return nil
}

// maybeCompactLocked rebuilds the FAISS index once tombstones outnumber live rows.
func (f *FAISSIndex) maybeCompactLocked() error {
	live := len(f.idToIntID)
	if int(f.nextID)-live <= live {
		return nil
	}
	entries := make([]Entry, 0, live)
	for id, vec := range f.vectors {
		entries = append(entries, Entry{ID: id, Vector: vec})
	}
	sort.Slice(entries, func(i, j int) bool { return f.idToIntID[entries[i].ID] < f.idToIntID[entries[j].ID] })
	if err := f.resetLocked(); err != nil {
		return err
	}
	return f.addLocked(entries)
}

// Search returns the top-k vectors by inner product.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkVector("query", query, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.idToIntID) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	// Over-fetch by the tombstone count so k live rows are always reachable.
	ntotal := int(C.faiss_Index_ntotal(f.index))
	n := k + ntotal - len(f.idToIntID)
	if n > ntotal {
		n = ntotal
	}
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < n; i++ {
		if labels[i] < 0 {
			continue
		}
		id, ok := f.intIDToID[labels[i]]
		if !ok {
			continue
		}
		results = append(results, &VectorResult{ID: id, Score: float64(distances[i])})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Contains reports whether id has a live vector.
func (f *FAISSIndex) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.idToIntID[id]
	return ok
}

// Entries returns a copy of all live entries in insertion order.
func (f *FAISSIndex) Entries() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Entry, 0, len(f.vectors))
	for id, vec := range f.vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out = append(out, Entry{ID: id, Vector: cp})
	}
	sort.Slice(out, func(i, j int) bool { return f.idToIntID[out[i].ID] < f.idToIntID[out[j].ID] })
	return out
}

// Size returns the number of live vectors (excluding tombstones).
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToIntID)
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Generation returns the mutation counter.
func (f *FAISSIndex) Generation() uint64 {
	return f.generation.Load()
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	runtime.SetFinalizer(f, nil)
	f.free()
	f.idToIntID = make(map[string]int64)
	f.intIDToID = make(map[int64]string)
	f.vectors = make(map[string][]float32)
	return nil
}
