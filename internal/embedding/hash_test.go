package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i] * b[i])
	}
	return s
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Stocks rally as tech shares surge")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "Stocks rally as tech shares surge")
	if len(a) != 384 {
		t.Fatalf("len=%d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	if n := math.Sqrt(dot(a, a)); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm=%f, want 1", n)
	}
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "Stocks rally as tech shares surge")
	near, _ := e.Embed(ctx, "Tech shares climb in strong market rally")
	far, _ := e.Embed(ctx, "Local team wins championship game")
	if dot(q, near) <= dot(q, far) {
		t.Errorf("expected overlapping headline to score higher: near=%f far=%f", dot(q, near), dot(q, far))
	}
}

func TestHashEmbedder_CJKSimilarity(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	q, err := e.Embed(ctx, "中国经济增长放缓")
	if err != nil {
		t.Fatal(err)
	}
	near, _ := e.Embed(ctx, "中国经济增长加速")
	far, _ := e.Embed(ctx, "本地球队赢得冠军")
	if dot(q, near) <= dot(q, far) {
		t.Errorf("expected shared-prefix headline to score higher: near=%f far=%f", dot(q, near), dot(q, far))
	}
	if dot(q, near) < 0.5 {
		t.Errorf("near=%f, want at least 0.5", dot(q, near))
	}
}

func TestHashEmbedder_StopWordsOnly(t *testing.T) {
	e := NewHashEmbedder(8)
	v, err := e.Embed(context.Background(), "The")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 8 {
		t.Errorf("len = %d, want 8", len(v))
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(8)
	for _, text := range []string{"", "  , ! ", "\u2014?"} {
		_, err := e.Embed(context.Background(), text)
		if !errors.Is(err, ErrEmptyText) {
			t.Errorf("Embed(%q) = %v, want ErrEmptyText", text, err)
		}
		if !errors.Is(err, models.ErrInvalidConfig) {
			t.Errorf("Embed(%q) = %v, want ErrInvalidConfig", text, err)
		}
	}
}

type countingEmbedder struct {
	*HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	if _, err := c.Embed(ctx, "hello world"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(ctx, "hello world"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls)
	}
	out, err := c.EmbedBatch(ctx, []string{"hello world", "other text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1] == nil {
		t.Fatalf("unexpected batch output %v", out)
	}
	if inner.calls != 2 {
		t.Errorf("batch should embed only the miss, calls=%d", inner.calls)
	}
	if c.Dimensions() != 16 {
		t.Errorf("Dimensions=%d", c.Dimensions())
	}
}
