// Package rules evaluates per-user rules and verified global patterns
// against transactions. It is the deterministic, cheap first tier of
// categorization.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/reckonhq/reckon/internal/model"
)

// Confidence assigned per matching tier. Rules are more trusted than
// global patterns.
const (
	RuleConfidence          = 1.0
	GlobalPatternConfidence = 0.85
)

// Match is the outcome of a successful rule or global pattern match.
type Match struct {
	SubcategoryID *int64
	Explanation   string
	Source        model.CategorySource
	RuleID        int64
	CategoryID    int64
	Confidence    float64
}

// Matcher evaluates a fixed set of user rules against transactions.
// Regex patterns are compiled once; invalid patterns are skipped and
// reported via InvalidRules, never fatal.
type Matcher struct {
	compiledRegex map[int64]*regexp.Regexp
	invalid       map[int64]string
	rules         []model.UserRule
}

// NewMatcher creates a matcher over the given rules. Rules are ordered by
// priority, then match count, then recency, so the first match wins ties
// deterministically.
func NewMatcher(userRules []model.UserRule) *Matcher {
	m := &Matcher{
		rules:         make([]model.UserRule, len(userRules)),
		compiledRegex: make(map[int64]*regexp.Regexp),
		invalid:       make(map[int64]string),
	}
	copy(m.rules, userRules)

	sort.SliceStable(m.rules, func(i, j int) bool {
		a, b := m.rules[i], m.rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	for _, rule := range m.rules {
		if rule.PatternType != model.PatternRegex {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			m.invalid[rule.ID] = err.Error()
			continue
		}
		m.compiledRegex[rule.ID] = re
	}

	return m
}

// InvalidRules reports rules whose regex failed to compile, keyed by rule
// id, so callers can flag them for the owner.
func (m *Matcher) InvalidRules() map[int64]string {
	return m.invalid
}

// Match returns the winning rule match for a transaction, or nil when no
// active rule matches.
func (m *Matcher) Match(txn *model.Transaction) *Match {
	for _, rule := range m.rules {
		if !rule.IsActive {
			continue
		}
		if !m.matchesRule(txn, rule) {
			continue
		}
		return &Match{
			RuleID:        rule.ID,
			CategoryID:    rule.CategoryID,
			SubcategoryID: rule.SubcategoryID,
			Confidence:    RuleConfidence,
			Source:        model.SourceRule,
			Explanation:   explainRule(rule),
		}
	}
	return nil
}

// matchesRule evaluates one rule's predicate. The pattern type is a
// closed variant set so this is a total function.
func (m *Matcher) matchesRule(txn *model.Transaction, rule model.UserRule) bool {
	switch rule.PatternType {
	case model.PatternKeyword:
		return strings.Contains(
			keywordText(txn, rule.MatchField),
			strings.ToLower(rule.Pattern))
	case model.PatternRegex:
		re, ok := m.compiledRegex[rule.ID]
		if !ok {
			return false
		}
		return re.MatchString(matchText(txn, rule.MatchField))
	case model.PatternAmountRange:
		if rule.AmountMin != nil && txn.Amount < *rule.AmountMin {
			return false
		}
		if rule.AmountMax != nil && txn.Amount > *rule.AmountMax {
			return false
		}
		return rule.AmountMin != nil || rule.AmountMax != nil
	}
	return false
}

// keywordText is the haystack for keyword containment. Descriptions are
// normalized so a pattern learned from one raw spelling matches every
// transaction with the same normalized text.
func keywordText(txn *model.Transaction, field model.MatchField) string {
	switch field {
	case model.FieldAmount:
		return strconv.FormatFloat(txn.Amount, 'f', 2, 64)
	case model.FieldCombined:
		return model.NormalizeDescription(txn.Description) + " " + strconv.FormatFloat(txn.Amount, 'f', 2, 64)
	}
	return model.NormalizeDescription(txn.Description)
}

// matchText selects the text a regex pattern runs against.
func matchText(txn *model.Transaction, field model.MatchField) string {
	switch field {
	case model.FieldDescription:
		return txn.Description
	case model.FieldAmount:
		return strconv.FormatFloat(txn.Amount, 'f', 2, 64)
	case model.FieldCombined:
		return txn.Description + " " + strconv.FormatFloat(txn.Amount, 'f', 2, 64)
	}
	return txn.Description
}

func explainRule(rule model.UserRule) string {
	switch rule.PatternType {
	case model.PatternKeyword:
		return fmt.Sprintf("matched rule: description contains %q", rule.Pattern)
	case model.PatternRegex:
		return fmt.Sprintf("matched rule: pattern %q", rule.Pattern)
	case model.PatternAmountRange:
		return "matched rule: amount within configured range"
	}
	return "matched rule"
}
