package rank

import (
	"math"
	"testing"
)

func TestBM25ScoreRanksMatchingDocsHigher(t *testing.T) {
	s := NewBM25()
	docs := []string{
		"alice moved to berlin last year",
		"bob prefers tea in the morning",
		"berlin has long winters",
	}

	scores := s.Score("berlin winters", docs)
	if len(scores) != len(docs) {
		t.Fatalf("expected %d scores, got %d", len(docs), len(scores))
	}
	if scores[2] <= scores[0] {
		t.Errorf("doc with both terms should outscore doc with one: %v", scores)
	}
	if scores[1] != 0 {
		t.Errorf("doc with no query terms should score 0, got %f", scores[1])
	}
	if scores[0] <= 0 {
		t.Errorf("doc containing a query term should score > 0, got %f", scores[0])
	}
}

func TestBM25ScoreEmptyInputs(t *testing.T) {
	s := NewBM25()

	if got := s.Score("", []string{"some doc"}); got[0] != 0 {
		t.Errorf("empty query should score 0, got %f", got[0])
	}
	if got := s.Score("query", nil); len(got) != 0 {
		t.Errorf("no docs should yield no scores, got %v", got)
	}
	got := s.Score("query", []string{"", "of the and"})
	for i, v := range got {
		if v != 0 {
			t.Errorf("empty-token doc %d should score 0, got %f", i, v)
		}
	}
}

func TestBM25ScoreMatchesFormula(t *testing.T) {
	// Single doc, single matching term: tf=1, docLen=2, avgLen=2,
	// df=1, N=1 => idf = log((1-1+0.5)/(1+0.5)+1) = log(4/3)
	// norm = 1 + 1.5*(1-0.75+0.75*1) = 2.5
	// score = idf * (1*2.5)/2.5 = idf
	s := NewBM25()
	scores := s.Score("berlin", []string{"berlin winters"})
	want := math.Log(4.0 / 3.0)
	if math.Abs(scores[0]-want) > 1e-12 {
		t.Errorf("score = %.12f, want %.12f", scores[0], want)
	}
}

func TestBM25LengthNormalization(t *testing.T) {
	// Same tf for the query term; the shorter doc should score higher.
	s := NewBM25()
	docs := []string{
		"coffee ritual",
		"coffee ritual morning kitchen window sunlight quiet moment",
	}
	scores := s.Score("coffee", docs)
	if scores[0] <= scores[1] {
		t.Errorf("shorter doc should outscore longer one: %v", scores)
	}
}

func TestBM25TermSaturation(t *testing.T) {
	// Repeating a term increases the score sublinearly.
	s := NewBM25()
	docs := []string{
		"coffee plain brew filter",
		"coffee coffee plain brew",
		"coffee coffee coffee plain",
	}
	scores := s.Score("coffee", docs)
	if !(scores[0] < scores[1] && scores[1] < scores[2]) {
		t.Fatalf("scores should increase with tf: %v", scores)
	}
	gain1 := scores[1] - scores[0]
	gain2 := scores[2] - scores[1]
	if gain2 >= gain1 {
		t.Errorf("tf gains should saturate: first gain %f, second gain %f", gain1, gain2)
	}
}
