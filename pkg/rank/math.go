package rank

import "math"

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths or zero-norm inputs yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineToScore maps a cosine similarity in [-1,1] onto [0,1].
func CosineToScore(cos float64) float64 {
	return Clamp((1+cos)/2, 0, 1)
}

// MinMaxNormalize rescales values onto [0,1]. Degenerate inputs follow
// fixed rules: an empty slice stays empty, a single element becomes 1
// when positive and 0 otherwise, and an all-equal slice becomes all
// zeros.
func MinMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if len(values) == 1 {
		if values[0] > 0 {
			out[0] = 1
		}
		return out
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
