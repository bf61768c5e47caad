package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// LexicalScorer scores pairs by cosine similarity of their analyzed term frequencies.
// Text is run through a Bleve analyzer ("en" stems, "standard" only lowercases and splits,
// "cjk" emits overlapping bigrams for unspaced Chinese, Japanese and Korean text).
type LexicalScorer struct {
	mapping  *mapping.IndexMappingImpl
	analyzer string
}

// NewLexicalScorer returns a scorer using the named Bleve analyzer; empty means "en".
func NewLexicalScorer(analyzer string) (*LexicalScorer, error) {
	if analyzer == "" {
		analyzer = en.AnalyzerName
	}
	im := bleve.NewIndexMapping()
	if im.AnalyzerNamed(analyzer) == nil {
		return nil, fmt.Errorf("unknown analyzer %q (try %q, %q or %q)", analyzer, en.AnalyzerName, standard.Name, cjk.AnalyzerName)
	}
	return &LexicalScorer{mapping: im, analyzer: analyzer}, nil
}

// Name returns the scorer identifier.
func (s *LexicalScorer) Name() string {
	return "lexical"
}

// Score returns the term-frequency cosine of query and candidate, in [0, 1].
func (s *LexicalScorer) Score(ctx context.Context, query, candidate string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q, err := s.terms(query)
	if err != nil {
		return 0, unavailable(ctx, err)
	}
	c, err := s.terms(candidate)
	if err != nil {
		return 0, unavailable(ctx, err)
	}
	if len(q) == 0 || len(c) == 0 {
		return 0, nil
	}
	var dot, nq, nc float64
	for term, tf := range q {
		nq += tf * tf
		dot += tf * c[term]
	}
	for _, tf := range c {
		nc += tf * tf
	}
	return dot / (math.Sqrt(nq) * math.Sqrt(nc)), nil
}

func (s *LexicalScorer) terms(text string) (map[string]float64, error) {
	tokens, err := s.mapping.AnalyzeText(s.analyzer, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("analyze text: %w", err)
	}
	out := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		out[string(tok.Term)]++
	}
	return out, nil
}

// Close is a no-op.
func (s *LexicalScorer) Close() error {
	return nil
}
