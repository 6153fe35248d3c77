package model

import "time"

// GlobalPattern is a cross-user, anonymized text-to-category mapping.
// (pattern, category_id) is unique. Evidence accumulates from many users'
// confirmed categorizations; only verified patterns are eligible as a
// classification source.
type GlobalPattern struct {
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Pattern         string    `json:"pattern"`
	ID              int64     `json:"id"`
	CategoryID      int64     `json:"category_id"`
	OccurrenceCount int       `json:"occurrence_count"`
	UserCount       int       `json:"user_count"`
	AgreementCount  int       `json:"agreement_count"`
	MatchCount      int       `json:"match_count"`
	IsVerified      bool      `json:"is_verified"`
}
