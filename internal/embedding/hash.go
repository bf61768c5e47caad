package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/hyperjump/ruiji/pkg/utils"
)

// HashEmbedder is a deterministic feature-hashing embedder: each word and adjacent word pair
// is hashed to a signed bucket. It needs no model files, so it is the default provider and the
// one used in tests. Texts that share words get a positive inner product.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder producing vectors of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the normalized hashed bag of words for text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := Words(text)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyText, text)
	}
	emb := make([]float32, e.dimensions)
	for i, w := range words {
		e.add(emb, w, 1)
		if i > 0 {
			e.add(emb, words[i-1]+" "+w, 0.5)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *HashEmbedder) add(emb []float32, feature string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	bucket := int(sum % uint32(e.dimensions))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	emb[bucket] += weight
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}
