package temporal

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/store"
)

// matchLimit caps how many chronicle matches a search carries.
const matchLimit = 5

// Match pairs a chronicle with its lexical relevance to a query.
type Match struct {
	Chronicle *store.Chronicle `json:"chronicle"`
	Relevance float64          `json:"relevance"`
}

// Match scores the owner's current chronicles against the query by
// distinct-token overlap and returns the top matches, best first. It is
// a side channel of search: every failure degrades to an empty result.
func (s *Service) Match(ctx context.Context, ownerID, query string) []Match {
	queryTokens := rank.DistinctTokens(query)
	if len(queryTokens) == 0 {
		return nil
	}

	chronicles, err := s.store.CurrentChronicles(ctx, ownerID)
	if err != nil {
		s.logger.Warn("chronicle match failed",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil
	}

	var matches []Match
	for _, c := range chronicles {
		haystack := make(map[string]bool)
		for _, t := range rank.Tokenize(c.Entity + " " + c.Attribute + " " + c.Value) {
			haystack[t] = true
		}
		hits := 0
		for _, t := range queryTokens {
			if haystack[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, Match{
			Chronicle: c,
			Relevance: float64(hits) / float64(len(queryTokens)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})
	if len(matches) > matchLimit {
		matches = matches[:matchLimit]
	}
	return matches
}
