package reranker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

type mapTexts map[string]string

func (m mapTexts) Text(id string) (string, error) {
	t, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return t, nil
}

// lengthScorer scores by candidate length so expected order is easy to reason about.
type lengthScorer struct {
	calls atomic.Int32
	fail  string
}

func (s *lengthScorer) Score(ctx context.Context, q, c string) (float64, error) {
	s.calls.Add(1)
	if s.fail != "" && strings.Contains(c, s.fail) {
		return 0, fmt.Errorf("%w: boom", models.ErrScoringUnavailable)
	}
	return float64(len(c)), nil
}
func (s *lengthScorer) Name() string { return "length" }
func (s *lengthScorer) Close() error { return nil }

func TestRerank_OrderAndCallCount(t *testing.T) {
	texts := mapTexts{"a": "xx", "b": "xxxx", "c": "xx", "d": "x"}
	s := &lengthScorer{}
	r, err := New(s, texts, 2)
	if err != nil {
		t.Fatal(err)
	}
	in := []models.Candidate{{ID: "d", Stage1Score: 0.9}, {ID: "c", Stage1Score: 0.8}, {ID: "b", Stage1Score: 0.7}, {ID: "a", Stage1Score: 0.6}}
	got, err := r.Rerank(context.Background(), "q", in)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "a", "c", "d"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s want %s", i, got[i].ID, id)
		}
	}
	if got[0].Stage1Score != 0.7 {
		t.Errorf("stage-1 score should carry through, got %f", got[0].Stage1Score)
	}
	if s.calls.Load() != int32(len(in)) {
		t.Errorf("scorer calls=%d, want %d", s.calls.Load(), len(in))
	}
}

func TestRerank_Empty(t *testing.T) {
	s := &lengthScorer{}
	r, _ := New(s, mapTexts{}, 0)
	got, err := r.Rerank(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 || s.calls.Load() != 0 {
		t.Errorf("empty input should return empty without scoring, got %v", got)
	}
}

func TestRerank_FailureFailsWholeCall(t *testing.T) {
	r, _ := New(&lengthScorer{fail: "bad"}, mapTexts{"a": "good", "b": "bad"}, 4)
	got, err := r.Rerank(context.Background(), "q", []models.Candidate{{ID: "a"}, {ID: "b"}})
	if !errors.Is(err, models.ErrScoringUnavailable) {
		t.Errorf("got %v, want ErrScoringUnavailable", err)
	}
	if got != nil {
		t.Error("partial results must not be returned")
	}
}

func TestRerank_MissingText(t *testing.T) {
	r, _ := New(&lengthScorer{}, mapTexts{}, 1)
	if _, err := r.Rerank(context.Background(), "q", []models.Candidate{{ID: "gone"}}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
