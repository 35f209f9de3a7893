package gain

import "testing"

func TestApplyGain(t *testing.T) {
	sample := float32(0.5)
	gain := float32(2.0)
	expected := float32(1.0)

	result := Apply(sample, gain)
	if result != expected {
		t.Errorf("Apply(%f, %f) = %f, want %f", sample, gain, result, expected)
	}
}

func BenchmarkApply(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Apply(0.5, 2.0)
	}
}
