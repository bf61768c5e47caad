package vector

import (
	"context"
	"fmt"
	"math/rand"
)

// MeasureRecall returns the fraction of queries whose exact top-1 hit appears in the
// approximate top-k. Both indexes must hold the same entries.
func MeasureRecall(ctx context.Context, approx, exact Index, queries [][]float32, k int) (float64, error) {
	if len(queries) == 0 {
		return 1, nil
	}
	hits := 0
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		want, err := exact.Search(ctx, q, 1)
		if err != nil {
			return 0, fmt.Errorf("exact search: %w", err)
		}
		got, err := approx.Search(ctx, q, k)
		if err != nil {
			return 0, fmt.Errorf("approximate search: %w", err)
		}
		if len(want) == 0 {
			hits++
			continue
		}
		for _, r := range got {
			if r.ID == want[0].ID {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(queries)), nil
}

// SampleQueries picks up to n stored vectors as recall probes, deterministically for a seed.
func SampleQueries(entries []Entry, n int, seed int64) [][]float32 {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	if n > len(entries) {
		n = len(entries)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(entries))
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = entries[perm[i]].Vector
	}
	return out
}
