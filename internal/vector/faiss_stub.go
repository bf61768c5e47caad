//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"fmt"
)

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

var errFAISSUnavailable = fmt.Errorf("FAISS not available")

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")
}

// Build is not implemented without FAISS.
func (f *FAISSIndex) Build(ctx context.Context, entries []Entry) error {
	return errFAISSUnavailable
}

// Insert is not implemented without FAISS.
func (f *FAISSIndex) Insert(ctx context.Context, entry Entry) error {
	return errFAISSUnavailable
}

// Remove is not implemented without FAISS.
func (f *FAISSIndex) Remove(ctx context.Context, id string) error {
	return errFAISSUnavailable
}

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

// Contains returns false without FAISS.
func (f *FAISSIndex) Contains(id string) bool { return false }

// Entries returns nil without FAISS.
func (f *FAISSIndex) Entries() []Entry { return nil }

// Size returns 0 without FAISS.
func (f *FAISSIndex) Size() int { return 0 }

// Dimensions returns 0 without FAISS.
func (f *FAISSIndex) Dimensions() int { return 0 }

// Generation returns 0 without FAISS.
func (f *FAISSIndex) Generation() uint64 { return 0 }

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error {
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
