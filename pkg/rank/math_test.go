package rank

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"mismatched lengths", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineToScore(t *testing.T) {
	tests := []struct {
		cos  float64
		want float64
	}{
		{1, 1},
		{-1, 0},
		{0, 0.5},
		{0.84, 0.92},
		{1.0000001, 1}, // float noise clamps
	}
	for _, tt := range tests {
		if got := CosineToScore(tt.cos); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CosineToScore(%f) = %f, want %f", tt.cos, got, tt.want)
		}
	}
}

func TestMinMaxNormalize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{"empty", nil, []float64{}},
		{"single positive", []float64{0.7}, []float64{1}},
		{"single zero", []float64{0}, []float64{0}},
		{"single negative", []float64{-3}, []float64{0}},
		{"all equal", []float64{2, 2, 2}, []float64{0, 0, 0}},
		{"spread", []float64{1, 3, 2}, []float64{0, 1, 0.5}},
		{"negatives", []float64{-2, 0, 2}, []float64{0, 0.5, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinMaxNormalize(tt.values)
			if len(got) != len(tt.want) {
				t.Fatalf("length %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(got[i]-tt.want[i]) > 1e-9 {
					t.Errorf("index %d: got %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(1.5, 0, 1); got != 1 {
		t.Errorf("Clamp above = %f, want 1", got)
	}
	if got := Clamp(-0.5, 0, 1); got != 0 {
		t.Errorf("Clamp below = %f, want 0", got)
	}
	if got := Clamp(0.42, 0, 1); got != 0.42 {
		t.Errorf("Clamp inside = %f, want 0.42", got)
	}
}
