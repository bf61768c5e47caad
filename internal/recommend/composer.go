// Package recommend composes stage-1 retrieval and stage-2 reranking into recommendations.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/metrics"
	"github.com/hyperjump/ruiji/internal/models"
)

// Registry is the read side of the corpus the composer needs.
type Registry interface {
	Get(id string) (models.Item, error)
	Text(id string) (string, error)
	Contains(id string) bool
	LookupText(text string) []string
}

// Retriever produces stage-1 candidates.
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int) ([]models.Candidate, error)
}

// Reranker produces stage-2 scores for candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.ScoredCandidate, error)
}

// Options controls composition policy.
type Options struct {
	TopKRetrieve int
	TopKFinal    int
	// SelfExclusion drops the query item (by id) or every item with identical text (by text).
	SelfExclusion bool
	// MaxAttempts bounds tries per stage for retryable collaborator failures (1 = no retry).
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DegradeOnScorerFailure returns stage-1 order, flagged Degraded, when scoring stays unavailable.
	DegradeOnScorerFailure bool
	// MaxRestarts bounds pipeline restarts when candidates are removed mid-query.
	MaxRestarts int
}

// DefaultOptions retrieves 5 candidates, returns 3, and excludes the query item.
func DefaultOptions() Options {
	return Options{
		TopKRetrieve:   5,
		TopKFinal:      3,
		SelfExclusion:  true,
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		MaxRestarts:    2,
	}
}

// Composer runs the two-stage pipeline and applies self-exclusion, truncation, and ordering.
type Composer struct {
	registry  Registry
	retriever Retriever
	reranker  Reranker
	opts      Options
	logger    *zap.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLogger sets a logger for retries and degraded responses.
func WithLogger(l *zap.Logger) ComposerOption {
	return func(c *Composer) { c.logger = l }
}

// NewComposer validates opts and returns a composer.
func NewComposer(registry Registry, retriever Retriever, reranker Reranker, opts Options, options ...ComposerOption) (*Composer, error) {
	if registry == nil || retriever == nil || reranker == nil {
		return nil, fmt.Errorf("composer: registry, retriever and reranker are required")
	}
	if err := models.ValidateTopK(opts.TopKRetrieve, opts.TopKFinal); err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxRestarts < 0 {
		opts.MaxRestarts = 0
	}
	c := &Composer{registry: registry, retriever: retriever, reranker: reranker, opts: opts, logger: zap.NewNop()}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// Options returns the composer's effective options.
func (c *Composer) Options() Options {
	return c.opts
}

// Recommend returns up to TopKFinal items related to the request's item or text, ordered by
// stage-2 score desc then id asc. A short list is a valid answer. Errors keep their kind:
// models.ErrNotFound, models.ErrInvalidConfig, models.ErrEmptyIndex, models.ErrDimensionMismatch,
// models.ErrEmbeddingUnavailable, models.ErrScoringUnavailable, or the context's error.
func (c *Composer) Recommend(ctx context.Context, req models.RecommendRequest) (resp *models.RecommendResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.RecommendDuration.WithLabelValues(outcome(resp, err)).Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(c.opts.TopKRetrieve, c.opts.TopKFinal); err != nil {
		return nil, err
	}
	query, self, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		recs, degraded, err := c.run(ctx, query, self, req.TopKRetrieve, req.TopKFinal)
		if errors.Is(err, models.ErrNotFound) && attempt < c.opts.MaxRestarts {
			// A candidate was removed between stages.
			metrics.Retries.WithLabelValues("candidate_removed").Inc()
			c.logger.Debug("restarting recommendation after concurrent removal", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		if stale := c.countRemoved(recs); stale > 0 && attempt < c.opts.MaxRestarts {
			metrics.Retries.WithLabelValues("candidate_removed").Inc()
			continue
		}
		return c.respond(query, req.ID, recs, degraded, start), nil
	}
}

func (c *Composer) resolve(req models.RecommendRequest) (string, map[string]struct{}, error) {
	self := make(map[string]struct{})
	if req.ID != "" {
		text, err := c.registry.Text(req.ID)
		if err != nil {
			return "", nil, err
		}
		if c.opts.SelfExclusion {
			self[req.ID] = struct{}{}
		}
		return text, self, nil
	}
	if c.opts.SelfExclusion {
		for _, id := range c.registry.LookupText(req.Text) {
			self[id] = struct{}{}
		}
	}
	return req.Text, self, nil
}

func (c *Composer) run(ctx context.Context, query string, self map[string]struct{}, topKRetrieve, topKFinal int) ([]models.ScoredCandidate, bool, error) {
	var candidates []models.Candidate
	err := c.retry(ctx, "embedder", func() error {
		var err error
		candidates, err = c.retriever.Retrieve(ctx, query, topKRetrieve+len(self))
		return err
	})
	if err != nil {
		return nil, false, err
	}

	filtered := make([]models.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if _, isSelf := self[cand.ID]; isSelf || !c.registry.Contains(cand.ID) {
			continue
		}
		filtered = append(filtered, cand)
	}
	if len(filtered) > topKRetrieve {
		filtered = filtered[:topKRetrieve]
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var scored []models.ScoredCandidate
	err = c.retry(ctx, "scorer", func() error {
		var err error
		scored, err = c.reranker.Rerank(ctx, query, filtered)
		return err
	})
	if err != nil {
		if c.opts.DegradeOnScorerFailure && errors.Is(err, models.ErrScoringUnavailable) {
			c.logger.Warn("scorer unavailable, serving stage-1 order", zap.Error(err))
			metrics.DegradedResponses.Inc()
			return truncate(fromStage1(filtered), topKFinal), true, nil
		}
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return truncate(scored, topKFinal), false, nil
}

// retry runs op until it succeeds, fails permanently, or MaxAttempts is reached.
func (c *Composer) retry(ctx context.Context, collaborator string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	b.MaxInterval = c.opts.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !models.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.Retries.WithLabelValues(collaborator).Inc()
		c.logger.Warn("collaborator unavailable, retrying",
			zap.String("collaborator", collaborator), zap.Duration("backoff", wait), zap.Error(err))
	})
}

func (c *Composer) countRemoved(recs []models.ScoredCandidate) int {
	n := 0
	for _, r := range recs {
		if !c.registry.Contains(r.ID) {
			n++
		}
	}
	return n
}

func (c *Composer) respond(query, queryID string, scored []models.ScoredCandidate, degraded bool, start time.Time) *models.RecommendResponse {
	resp := &models.RecommendResponse{
		Query:           query,
		QueryID:         queryID,
		Recommendations: make([]*models.Recommendation, 0, len(scored)),
		Degraded:        degraded,
	}
	for _, s := range scored {
		item, err := c.registry.Get(s.ID)
		if err != nil {
			// Removed after the final restart; never return ids that left the corpus.
			continue
		}
		resp.Recommendations = append(resp.Recommendations, &models.Recommendation{
			ID:          s.ID,
			Text:        item.Text,
			Score:       s.Stage2Score,
			Stage1Score: s.Stage1Score,
			Metadata:    item.Metadata,
			Rank:        len(resp.Recommendations) + 1,
		})
	}
	if degraded {
		resp.Reason = "scoring unavailable; results in retrieval order"
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp
}

func fromStage1(c []models.Candidate) []models.ScoredCandidate {
	out := make([]models.ScoredCandidate, len(c))
	for i, cand := range c {
		out[i] = models.ScoredCandidate{ID: cand.ID, Stage2Score: cand.Stage1Score, Stage1Score: cand.Stage1Score}
	}
	return out
}

func truncate(s []models.ScoredCandidate, n int) []models.ScoredCandidate {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func outcome(resp *models.RecommendResponse, err error) string {
	switch {
	case err == nil && resp != nil && resp.Degraded:
		return "degraded"
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case models.IsNoResults(err):
		return "no_results"
	default:
		return "error"
	}
}
