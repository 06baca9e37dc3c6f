package detect

import (
	"image"
	"testing"
)

func TestFinalize_FiltersBelowThreshold(t *testing.T) {
	dets := []Detection{
		{Box: image.Rect(0, 0, 10, 10), Confidence: 0.9},
		{Box: image.Rect(20, 0, 30, 10), Confidence: 0.3},
		{Box: image.Rect(40, 0, 50, 10), Confidence: 0.4},
	}

	got := finalize(dets, 0.4)
	if len(got) != 2 {
		t.Fatalf("kept %d detections, want 2", len(got))
	}
	for _, d := range got {
		if d.Confidence < 0.4 {
			t.Errorf("detection with confidence %g survived threshold 0.4", d.Confidence)
		}
	}
}

func TestFinalize_OrdersByDescendingConfidence(t *testing.T) {
	dets := []Detection{
		{Box: image.Rect(0, 0, 10, 10), Confidence: 0.5},
		{Box: image.Rect(20, 0, 30, 10), Confidence: 0.95},
		{Box: image.Rect(40, 0, 50, 10), Confidence: 0.7},
	}

	got := finalize(dets, 0)
	want := []float64{0.95, 0.7, 0.5}
	for i, d := range got {
		if d.Confidence != want[i] {
			t.Errorf("position %d confidence = %g, want %g", i, d.Confidence, want[i])
		}
	}
}

func TestFinalize_DeterministicTieBreak(t *testing.T) {
	a := Detection{Box: image.Rect(50, 0, 60, 10), Confidence: 0.8}
	b := Detection{Box: image.Rect(10, 0, 20, 10), Confidence: 0.8}

	first := finalize([]Detection{a, b}, 0)
	second := finalize([]Detection{b, a}, 0)

	if first[0].Box != second[0].Box {
		t.Errorf("tie-break not deterministic: %v vs %v", first[0].Box, second[0].Box)
	}
	if first[0].Box.Min.X != 10 {
		t.Errorf("tie-break should prefer leftmost box, got min.X=%d", first[0].Box.Min.X)
	}
}

func TestFinalize_EmptyInput(t *testing.T) {
	if got := finalize(nil, 0.4); len(got) != 0 {
		t.Errorf("finalize(nil) = %v, want empty", got)
	}
}
