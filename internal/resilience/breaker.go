// Package resilience wraps the embedding provider and pairwise scorer with circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/metrics"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/scorer"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state counter reset period; 0 never resets
	Timeout          time.Duration // open-state duration before half-open
	FailureThreshold uint32        // consecutive failures that open the breaker
}

// NewBreaker creates a circuit breaker that only counts transient collaborator failures.
// Cancellations and permanent errors (bad input) do not trip it.
func NewBreaker[T any](cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// wrapOpen converts breaker rejections into the collaborator's retryable error kind.
func wrapOpen(err, kind error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return err
}

// Embedder guards an embedding.Embedder with a circuit breaker.
type Embedder struct {
	inner   embedding.Embedder
	breaker *gobreaker.CircuitBreaker[[][]float32]
}

// NewEmbedder wraps inner.
func NewEmbedder(inner embedding.Embedder, cfg BreakerConfig, logger *zap.Logger) *Embedder {
	if cfg.Name == "" {
		cfg.Name = "embedder"
	}
	return &Embedder{inner: inner, breaker: NewBreaker[[][]float32](cfg, logger)}
}

// Embed embeds text through the breaker.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts through the breaker.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := e.breaker.Execute(func() ([][]float32, error) {
		if len(texts) == 1 {
			v, err := e.inner.Embed(ctx, texts[0])
			if err != nil {
				return nil, err
			}
			return [][]float32{v}, nil
		}
		return e.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		if models.IsRetryable(err) {
			metrics.CollaboratorFailures.WithLabelValues("embedder").Inc()
		}
		return nil, wrapOpen(err, models.ErrEmbeddingUnavailable)
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the inner embedder.
func (e *Embedder) Close() error {
	return e.inner.Close()
}

// State returns the breaker state name.
func (e *Embedder) State() string {
	return e.breaker.State().String()
}

// Scorer guards a scorer.Scorer with a circuit breaker.
type Scorer struct {
	inner   scorer.Scorer
	breaker *gobreaker.CircuitBreaker[float64]
}

// NewScorer wraps inner.
func NewScorer(inner scorer.Scorer, cfg BreakerConfig, logger *zap.Logger) *Scorer {
	if cfg.Name == "" {
		cfg.Name = "scorer"
	}
	return &Scorer{inner: inner, breaker: NewBreaker[float64](cfg, logger)}
}

// Score scores the pair through the breaker.
func (s *Scorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	score, err := s.breaker.Execute(func() (float64, error) {
		return s.inner.Score(ctx, query, candidate)
	})
	if err != nil {
		if models.IsRetryable(err) {
			metrics.CollaboratorFailures.WithLabelValues("scorer").Inc()
		}
		return 0, wrapOpen(err, models.ErrScoringUnavailable)
	}
	return score, nil
}

// Name returns the inner scorer's name.
func (s *Scorer) Name() string {
	return s.inner.Name()
}

// Close closes the inner scorer.
func (s *Scorer) Close() error {
	return s.inner.Close()
}

// State returns the breaker state name.
func (s *Scorer) State() string {
	return s.breaker.State().String()
}
