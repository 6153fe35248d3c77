package model

import "time"

// PatternType identifies how a rule's pattern is evaluated.
type PatternType string

// Pattern type constants.
const (
	PatternKeyword     PatternType = "keyword"
	PatternRegex       PatternType = "regex"
	PatternAmountRange PatternType = "amount_range"
)

// Valid reports whether the pattern type is one of the known variants.
func (p PatternType) Valid() bool {
	switch p {
	case PatternKeyword, PatternRegex, PatternAmountRange:
		return true
	}
	return false
}

// MatchField identifies which transaction field a rule is evaluated against.
type MatchField string

// Match field constants.
const (
	FieldDescription MatchField = "description"
	FieldAmount      MatchField = "amount"
	FieldCombined    MatchField = "combined"
)

// Valid reports whether the match field is one of the known variants.
func (f MatchField) Valid() bool {
	switch f {
	case FieldDescription, FieldAmount, FieldCombined:
		return true
	}
	return false
}

// RuleSource records how a rule came to exist.
type RuleSource string

// Rule source constants.
const (
	RuleSourceManual  RuleSource = "manual"
	RuleSourceLearned RuleSource = "learned_from_feedback"
)

// UserRule is a per-user categorization rule. (user_id, pattern) is unique.
type UserRule struct {
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	LastMatchedAt *time.Time  `json:"last_matched_at,omitempty"`
	AmountMin     *float64    `json:"amount_min,omitempty"`
	AmountMax     *float64    `json:"amount_max,omitempty"`
	SubcategoryID *int64      `json:"subcategory_id,omitempty"`
	UserID        string      `json:"user_id"`
	Pattern       string      `json:"pattern"`
	PatternType   PatternType `json:"pattern_type"`
	MatchField    MatchField  `json:"match_field"`
	Source        RuleSource  `json:"source"`
	LastError     string      `json:"last_error,omitempty"`
	ID            int64       `json:"id"`
	CategoryID    int64       `json:"category_id"`
	Priority      int         `json:"priority"`
	MatchCount    int         `json:"match_count"`
	IsActive      bool        `json:"is_active"`
}
