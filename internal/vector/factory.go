package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeExact uses brute-force search. Reference implementation, good for small corpora.
	IndexTypeExact IndexType = "exact"
	// IndexTypeMemory is an alias of IndexTypeExact kept for older config files.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeHNSW uses an in-process HNSW graph for approximate search.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFAISS uses FAISS IndexFlatIP. Requires the FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// IsApproximate reports whether indexes of this type may miss true nearest neighbours.
func (t IndexType) IsApproximate() bool {
	return t == IndexTypeHNSW
}

// NewIndex creates a vector index of the specified type.
// Supported types: "exact" (default, alias "memory"), "hnsw", "faiss".
func NewIndex(indexType string, dimensions int, hnsw HNSWConfig) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeExact, IndexTypeMemory, "":
		idx, err := NewExactIndex(dimensions)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypeHNSW:
		idx, err := NewHNSWIndex(dimensions, hnsw)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypeFAISS:
		idx, err := NewFAISSIndex(dimensions)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: exact, hnsw, faiss)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
