package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if sim := CosineSimilarity(a, b); math.Abs(float64(sim)-1) > 1e-4 {
		t.Errorf("identical vectors: got %f, want 1", sim)
	}
	c := []float32{0, 1, 0}
	if sim := CosineSimilarity(a, c); math.Abs(float64(sim)) > 1e-4 {
		t.Errorf("orthogonal vectors: got %f, want 0", sim)
	}
	if sim := CosineSimilarity(a, []float32{1, 0}); sim != 0 {
		t.Errorf("mismatched lengths: got %f, want 0", sim)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Errorf("norm after Normalize = %f, want 1", math.Sqrt(norm))
	}
}
