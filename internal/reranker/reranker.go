// Package reranker rescores stage-1 candidates with a pairwise scorer.
package reranker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/ruiji/internal/metrics"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scorer"
)

// DefaultConcurrency bounds in-flight scorer calls per Rerank.
const DefaultConcurrency = 8

// TextSource resolves candidate ids to their text.
type TextSource interface {
	Text(id string) (string, error)
}

// Reranker scores every candidate against the query and returns them fully ordered.
type Reranker struct {
	scorer      scorer.Scorer
	texts       TextSource
	concurrency int
}

// New returns a reranker. concurrency <= 0 uses DefaultConcurrency.
func New(s scorer.Scorer, texts TextSource, concurrency int) (*Reranker, error) {
	if s == nil {
		return nil, fmt.Errorf("reranker: scorer is required")
	}
	if texts == nil {
		return nil, fmt.Errorf("reranker: text source is required")
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reranker{scorer: s, texts: texts, concurrency: concurrency}, nil
}

// Rerank makes exactly one scorer call per candidate and orders the results by stage-2
// score desc, ties by id asc. Any scorer failure fails the whole call; partial scores are
// never returned. A candidate missing from the text source fails with models.ErrNotFound.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.ScoredCandidate, error) {
	if len(candidates) == 0 {
		return []models.ScoredCandidate{}, nil
	}
	defer metrics.ObserveStage("rerank", time.Now())

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		t, err := r.texts.Text(c.ID)
		if err != nil {
			return nil, fmt.Errorf("candidate text: %w", err)
		}
		texts[i] = t
	}

	out := make([]models.ScoredCandidate, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			score, err := r.scorer.Score(gctx, query, texts[i])
			if err != nil {
				return fmt.Errorf("score %q: %w", c.ID, err)
			}
			out[i] = models.ScoredCandidate{ID: c.ID, Stage2Score: score, Stage1Score: c.Stage1Score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	models.SortScored(out)
	return out, nil
}
