package rank

import "math"

// BM25 scores documents against a query using the BM25 ranking function.
// Unlike a corpus-fitted encoder, document frequencies and the average
// document length are computed over the candidate set passed to Score,
// so scores are comparable within one retrieval and need no training.
type BM25 struct {
	K1 float64 // Term frequency saturation parameter
	B  float64 // Length normalization parameter
}

// NewBM25 returns a scorer with the engine's fixed parameters.
func NewBM25() BM25 {
	return BM25{K1: 1.5, B: 0.75}
}

// Score returns one BM25 score per document. An empty query, or an empty
// document set, yields all-zero scores.
func (s BM25) Score(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 || len(docs) == 0 {
		return scores
	}

	docTerms := make([][]string, len(docs))
	totalLen := 0.0
	for i, doc := range docs {
		docTerms[i] = Tokenize(doc)
		totalLen += float64(len(docTerms[i]))
	}
	avgDocLen := totalLen / float64(len(docs))
	if avgDocLen == 0 {
		return scores
	}

	// Document frequency of each distinct query term across the candidates.
	docFreq := make(map[string]float64)
	for _, terms := range docTerms {
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(queryTerms))
	for _, term := range queryTerms {
		if _, ok := idf[term]; ok {
			continue
		}
		df := docFreq[term]
		// IDF = log((N - df + 0.5) / (df + 0.5) + 1)
		idf[term] = math.Log((n-df+0.5)/(df+0.5) + 1)
	}

	for i, terms := range docTerms {
		docLen := float64(len(terms))
		if docLen == 0 {
			continue
		}
		termFreq := make(map[string]float64, len(terms))
		for _, t := range terms {
			termFreq[t]++
		}
		var score float64
		for term, weight := range idf {
			tf := termFreq[term]
			if tf == 0 {
				continue
			}
			norm := tf + s.K1*(1-s.B+s.B*docLen/avgDocLen)
			score += weight * (tf * (s.K1 + 1)) / norm
		}
		scores[i] = score
	}
	return scores
}
