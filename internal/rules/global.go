package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reckonhq/reckon/internal/model"
)

// GlobalMatcher evaluates verified cross-user patterns against
// transactions. It is the second categorization tier: the same keyword
// containment predicate as user rules, restricted to verified patterns,
// with a lower fixed confidence.
type GlobalMatcher struct {
	patterns []model.GlobalPattern
}

// NewGlobalMatcher creates a matcher over verified global patterns.
// Unverified patterns are excluded; they accumulate evidence only.
func NewGlobalMatcher(patterns []model.GlobalPattern) *GlobalMatcher {
	verified := make([]model.GlobalPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.IsVerified {
			verified = append(verified, p)
		}
	}

	sort.SliceStable(verified, func(i, j int) bool {
		a, b := verified[i], verified[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		return a.ID < b.ID
	})

	return &GlobalMatcher{patterns: verified}
}

// Match returns the winning global pattern match for a transaction, or
// nil when none applies.
func (g *GlobalMatcher) Match(txn *model.Transaction) *Match {
	description := model.NormalizeDescription(txn.Description)
	for _, p := range g.patterns {
		if !strings.Contains(description, strings.ToLower(p.Pattern)) {
			continue
		}
		return &Match{
			RuleID:      p.ID,
			CategoryID:  p.CategoryID,
			Confidence:  GlobalPatternConfidence,
			Source:      model.SourceGlobalPattern,
			Explanation: fmt.Sprintf("matched shared pattern %q confirmed by %d users", p.Pattern, p.AgreementCount),
		}
	}
	return nil
}
