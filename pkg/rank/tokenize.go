// Package rank implements the lexical and numeric scoring primitives of
// the retrieval pipeline: tokenization, BM25 over a candidate set, cosine
// similarity, and score normalization.
package rank

import (
	"regexp"
	"strings"
)

var punct = regexp.MustCompile(`[^\w\s]+`)

// stopwords are dropped during tokenization, alongside any token of
// length <= 1.
var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "against": true,
	"all": true, "am": true, "an": true, "and": true, "any": true,
	"are": true, "as": true, "at": true,
	"be": true, "because": true, "been": true, "before": true,
	"being": true, "between": true, "both": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "does": true,
	"down": true, "during": true,
	"each": true, "few": true, "for": true, "from": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"here": true, "him": true, "his": true, "how": true,
	"if": true, "in": true, "into": true, "is": true, "it": true,
	"its": true,
	"just": true, "me": true, "more": true, "most": true, "my": true,
	"myself": true,
	"no": true, "nor": true, "not": true, "now": true,
	"of": true, "off": true, "on": true, "once": true, "only": true,
	"or": true, "other": true, "our": true, "ours": true, "out": true,
	"over": true, "own": true,
	"same": true, "she": true, "should": true, "so": true, "some": true,
	"such": true,
	"than": true, "that": true, "the": true, "their": true,
	"theirs": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true,
	"through": true, "to": true, "too": true,
	"under": true, "until": true, "up": true, "very": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "who": true,
	"why": true, "will": true, "with": true, "would": true,
	"you": true, "your": true, "yours": true,
}

// Tokenize lowercases the text, strips punctuation, and splits it into
// terms, dropping stopwords and tokens of length <= 1. Order and
// duplicates are preserved.
func Tokenize(text string) []string {
	text = punct.ReplaceAllString(strings.ToLower(text), " ")

	var terms []string
	for _, word := range strings.Fields(text) {
		if len(word) <= 1 || stopwords[word] {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// DistinctTokens returns the set of unique tokens in text, in first-seen
// order.
func DistinctTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
