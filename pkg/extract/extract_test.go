package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/juspay/hippocampus/pkg/store"
)

// fakeCompleter returns a canned reply or error.
type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return f.reply, f.err
}

func (f *fakeCompleter) Name() string { return "fake" }

func TestExtractParsesWellFormedReply(t *testing.T) {
	reply := `{
		"facts": ["alice moved to berlin", "alice works as an engineer"],
		"strand": "factual",
		"temporalFacts": [
			{"entity": "alice", "attribute": "city", "value": "berlin"},
			{"entity": "alice", "attribute": "job", "value": "engineer"}
		]
	}`
	e := New(&fakeCompleter{reply: reply}, nil)

	got := e.Extract(context.Background(), "Alice told me she moved to Berlin and works as an engineer")
	if len(got.Facts) != 2 {
		t.Fatalf("facts = %v", got.Facts)
	}
	if got.Strand != store.StrandFactual {
		t.Errorf("strand = %s", got.Strand)
	}
	if len(got.TemporalFacts) != 2 || got.TemporalFacts[0].Attribute != "city" {
		t.Errorf("temporal facts = %+v", got.TemporalFacts)
	}
}

func TestExtractFallsBackOnProviderError(t *testing.T) {
	e := New(&fakeCompleter{err: errors.New("connection refused")}, nil)

	got := e.Extract(context.Background(), "raw input text")
	if len(got.Facts) != 1 || got.Facts[0] != "raw input text" {
		t.Errorf("fallback facts = %v", got.Facts)
	}
	if got.Strand != store.StrandGeneral {
		t.Errorf("fallback strand = %s", got.Strand)
	}
	if len(got.TemporalFacts) != 0 {
		t.Errorf("fallback should carry no temporal facts, got %+v", got.TemporalFacts)
	}
}

func TestExtractFallsBackOnMalformedJSON(t *testing.T) {
	e := New(&fakeCompleter{reply: "sure! here are the facts: alice moved"}, nil)

	got := e.Extract(context.Background(), "some input")
	if len(got.Facts) != 1 || got.Facts[0] != "some input" {
		t.Errorf("fallback facts = %v", got.Facts)
	}
}

func TestExtractFallsBackOnUnknownStrand(t *testing.T) {
	reply := `{"facts": ["something"], "strand": "episodic", "temporalFacts": []}`
	e := New(&fakeCompleter{reply: reply}, nil)

	got := e.Extract(context.Background(), "some input")
	if got.Strand != store.StrandGeneral || got.Facts[0] != "some input" {
		t.Errorf("unknown strand should trigger full fallback, got %+v", got)
	}
}

func TestExtractNilCompleter(t *testing.T) {
	e := New(nil, nil)

	got := e.Extract(context.Background(), "plain text")
	if len(got.Facts) != 1 || got.Facts[0] != "plain text" || got.Strand != store.StrandGeneral {
		t.Errorf("nil completer fallback = %+v", got)
	}
}

func TestExtractEmptyFactsWithTemporalFacts(t *testing.T) {
	reply := `{"facts": [], "strand": "factual", "temporalFacts": [{"entity": "alice", "attribute": "city", "value": "berlin"}]}`
	e := New(&fakeCompleter{reply: reply}, nil)

	got := e.Extract(context.Background(), "input")
	if len(got.Facts) != 0 {
		t.Errorf("facts = %v, want none", got.Facts)
	}
	if len(got.TemporalFacts) != 1 {
		t.Errorf("temporal facts = %+v, want 1", got.TemporalFacts)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	reply := "```json\n{\"facts\": [\"alice moved\"], \"strand\": \"factual\", \"temporalFacts\": []}\n```"
	e := New(&fakeCompleter{reply: reply}, nil)

	got := e.Extract(context.Background(), "input")
	if len(got.Facts) != 1 || got.Facts[0] != "alice moved" {
		t.Errorf("fenced reply not parsed: %+v", got)
	}
}

func TestExtractDropsBlankAndPartialEntries(t *testing.T) {
	reply := `{
		"facts": ["  ", "real fact"],
		"strand": "general",
		"temporalFacts": [
			{"entity": "alice", "attribute": "", "value": "x"},
			{"entity": "alice", "attribute": "city", "value": "berlin"}
		]
	}`
	e := New(&fakeCompleter{reply: reply}, nil)

	got := e.Extract(context.Background(), "input")
	if len(got.Facts) != 1 || got.Facts[0] != "real fact" {
		t.Errorf("facts = %v", got.Facts)
	}
	if len(got.TemporalFacts) != 1 || got.TemporalFacts[0].Value != "berlin" {
		t.Errorf("temporal facts = %+v", got.TemporalFacts)
	}
}
