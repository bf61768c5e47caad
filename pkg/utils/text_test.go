package utils

import (
	"math"
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short unchanged", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"cut ascii", "hello world", 5, "hello..."},
		{"zero max", "x", 0, "x"},
		{"cut by runes", "股市大涨科技股领涨", 4, "股市大涨..."},
		{"multibyte fits", "股市大涨", 4, "股市大涨"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	if norm := NormalizeL2(v); math.Abs(norm-5) > 1e-9 {
		t.Errorf("norm = %v, want 5", norm)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalized = %v", v)
	}
	zero := []float32{0, 0}
	if norm := NormalizeL2(zero); norm != 0 || zero[0] != 0 {
		t.Errorf("zero vector: norm %v, %v", norm, zero)
	}
}
