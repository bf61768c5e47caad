// Package retriever runs stage-1 candidate retrieval against the similarity index.
package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/metrics"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vector"
)

// IndexSource returns the index to search. The indexer swaps indexes on rebuild, so the
// retriever resolves it on every call.
type IndexSource interface {
	Index() vector.Index
}

// Retriever embeds query text and searches the index. It does no reranking.
type Retriever struct {
	embedder embedding.Embedder
	indexes  IndexSource
}

// New returns a retriever. Both collaborators are required.
func New(embedder embedding.Embedder, indexes IndexSource) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retriever: embedder is required")
	}
	if indexes == nil {
		return nil, fmt.Errorf("retriever: index source is required")
	}
	return &Retriever{embedder: embedder, indexes: indexes}, nil
}

// Retrieve returns up to k stage-1 candidates for text, ordered by score desc then id asc.
// Embedding failures surface as models.ErrEmbeddingUnavailable; index errors
// (models.ErrDimensionMismatch, models.ErrEmptyIndex) are returned unchanged.
func (r *Retriever) Retrieve(ctx context.Context, text string, k int) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.RetrieveVector(ctx, vec, k)
}

// RetrieveVector searches with an already embedded query.
func (r *Retriever) RetrieveVector(ctx context.Context, vec []float32, k int) ([]models.Candidate, error) {
	defer metrics.ObserveStage("retrieve", time.Now())
	hits, err := r.indexes.Index().Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	out := make([]models.Candidate, len(hits))
	for i, h := range hits {
		out[i] = models.Candidate{ID: h.ID, Stage1Score: h.Score}
	}
	models.SortCandidates(out)
	return out, nil
}
