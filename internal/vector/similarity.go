package vector

// InnerProduct scores two unit vectors; for normalized inputs it equals cosine similarity.
// Callers check dimensions first; mismatched lengths score 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
