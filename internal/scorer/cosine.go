package scorer

import (
	"context"
	"fmt"

	"github.com/hyperjump/ruiji/internal/embedding"
)

// CosineScorer scores pairs by the inner product of their embeddings. Wrap the embedder
// with embedding.NewCachedEmbedder so repeated candidates are not re-embedded.
type CosineScorer struct {
	embedder embedding.Embedder
}

// NewCosineScorer returns a scorer backed by embedder.
func NewCosineScorer(embedder embedding.Embedder) *CosineScorer {
	return &CosineScorer{embedder: embedder}
}

// Name returns the scorer identifier.
func (s *CosineScorer) Name() string {
	return "cosine"
}

// Score embeds both texts and returns their inner product.
func (s *CosineScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	vecs, err := s.embedder.EmbedBatch(ctx, []string{query, candidate})
	if err != nil {
		return 0, unavailable(ctx, fmt.Errorf("embed pair: %w", err))
	}
	var dot float64
	for i := range vecs[0] {
		dot += float64(vecs[0][i] * vecs[1][i])
	}
	return dot, nil
}

// Close does not close the shared embedder.
func (s *CosineScorer) Close() error {
	return nil
}
