package models

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyIndex is returned when searching an index with no entries.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrEmptyCorpus is returned when building an index from no items.
	ErrEmptyCorpus = errors.New("corpus is empty")
	// ErrNotFound is returned when an id is not present.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when an id is registered again with different text.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrEmbeddingUnavailable is returned when the embedding provider fails or times out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrScoringUnavailable is returned when the pairwise scorer fails or times out.
	ErrScoringUnavailable = errors.New("scoring unavailable")
	// ErrInvalidConfig is returned for invalid retrieval parameters.
	ErrInvalidConfig = errors.New("invalid config")
)

// IsRetryable reports whether err is a transient collaborator failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrScoringUnavailable)
}

// IsNoResults reports whether err means there is nothing to recommend from.
func IsNoResults(err error) bool {
	return errors.Is(err, ErrEmptyIndex) || errors.Is(err, ErrEmptyCorpus)
}
