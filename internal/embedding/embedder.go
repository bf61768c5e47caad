// Package embedding turns text into unit-normalized vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
)

// Embedder produces vector embeddings for text. Implementations are deterministic for a
// fixed model, return vectors of length Dimensions(), and normalize them to unit length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmptyText is returned for text with no tokens to embed, such as punctuation only. It is an
// invalid input and is not retryable.
var ErrEmptyText = fmt.Errorf("%w: text has no tokens", models.ErrInvalidConfig)

// unavailable marks err as a transient provider failure. When the caller's ctx is done its
// error is returned instead, so cancellation is never retried.
func unavailable(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, models.ErrEmbeddingUnavailable) || errors.Is(err, ErrEmptyText) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
}
