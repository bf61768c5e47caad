// Package scorer provides pairwise relevance scorers used for stage-2 reranking.
package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ruiji/internal/models"
)

// Scorer assigns a relevance score to a (query, candidate) text pair. Higher is more relevant.
// Implementations are safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, query, candidate string) (float64, error)
	Name() string
	Close() error
}

// unavailable marks err as a transient scorer failure. When the caller's ctx is done its
// error is returned instead.
func unavailable(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, models.ErrScoringUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrScoringUnavailable, err)
}
