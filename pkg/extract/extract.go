// Package extract distills free-form text into atomic facts using a
// completion provider. Extraction never fails: any provider error or
// malformed reply degrades to storing the raw input as a single general
// memory.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/provider"
	"github.com/juspay/hippocampus/pkg/store"
)

// systemPrompt demands strict JSON so the reply can be parsed without
// heuristics. Providers are called with JSON output mode on top.
const systemPrompt = `You are a memory extraction service. Given a piece of text, you:

1. Split it into atomic facts. Each fact is one self-contained statement,
   rewritten in third person, with pronouns resolved where possible.
2. Classify the batch into exactly one memory strand:
   "factual", "experiential", "procedural", "preferential", "relational",
   or "general".
3. Extract temporal facts: entity-attribute-value triples that describe
   a state which can change over time (locations, jobs, preferences,
   statuses). Use lowercase snake_case attribute names.

Respond with ONLY a JSON object in this exact shape:
{"facts": ["..."], "strand": "...", "temporalFacts": [{"entity": "...", "attribute": "...", "value": "..."}]}

If the text contains no extractable facts, return empty arrays.`

// TemporalFact is an entity-attribute-value triple destined for the
// chronicle store.
type TemporalFact struct {
	Entity    string `json:"entity"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Result is the outcome of one extraction.
type Result struct {
	Facts         []string
	Strand        store.Strand
	TemporalFacts []TemporalFact
}

// Extractor runs fact extraction through a Completer. A nil completer
// disables extraction: every input falls back to a single general fact.
type Extractor struct {
	completer provider.Completer
	logger    *zap.Logger
}

// New builds an Extractor. Pass a nil completer to disable extraction.
func New(completer provider.Completer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{completer: completer, logger: logger}
}

// Extract distills text into facts. On any provider error, malformed
// reply, or unknown strand it returns the raw input as one general fact
// with no temporal facts.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	if e.completer == nil {
		return fallback(text)
	}

	raw, err := e.completer.Complete(ctx, systemPrompt, text)
	if err != nil {
		e.logger.Warn("fact extraction failed, storing raw input",
			zap.String("provider", e.completer.Name()),
			zap.Error(err))
		return fallback(text)
	}

	var payload struct {
		Facts         []string       `json:"facts"`
		Strand        string         `json:"strand"`
		TemporalFacts []TemporalFact `json:"temporalFacts"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		e.logger.Warn("fact extraction returned malformed JSON, storing raw input",
			zap.String("provider", e.completer.Name()),
			zap.Error(err))
		return fallback(text)
	}

	strand, ok := store.ParseStrand(strings.ToLower(strings.TrimSpace(payload.Strand)))
	if !ok {
		e.logger.Warn("fact extraction returned unknown strand, storing raw input",
			zap.String("strand", payload.Strand))
		return fallback(text)
	}

	result := Result{Strand: strand}
	for _, fact := range payload.Facts {
		if fact = strings.TrimSpace(fact); fact != "" {
			result.Facts = append(result.Facts, fact)
		}
	}
	for _, tf := range payload.TemporalFacts {
		tf.Entity = strings.TrimSpace(tf.Entity)
		tf.Attribute = strings.TrimSpace(tf.Attribute)
		tf.Value = strings.TrimSpace(tf.Value)
		if tf.Entity == "" || tf.Attribute == "" || tf.Value == "" {
			continue
		}
		result.TemporalFacts = append(result.TemporalFacts, tf)
	}
	return result
}

func fallback(text string) Result {
	return Result{
		Facts:  []string{text},
		Strand: store.StrandGeneral,
	}
}

// stripFences unwraps replies some models insist on fencing as
// ```json ... ``` despite JSON output mode.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
