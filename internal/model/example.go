package model

import (
	"strings"
	"time"
)

// ExampleSource records where a labeled example came from.
type ExampleSource string

// Example source constants.
const (
	ExampleSourceFeedback ExampleSource = "user_feedback"
	ExampleSourceSeed     ExampleSource = "seed"
)

// LabeledExample is a per-user labeled text example with an embedding
// vector, used for nearest-neighbor classification.
// (user_id, normalized_description) is unique; feedback upserts rather
// than duplicates.
type LabeledExample struct {
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	SubcategoryID         *int64        `json:"subcategory_id,omitempty"`
	TransactionID         *string       `json:"transaction_id,omitempty"`
	UserID                string        `json:"user_id"`
	Description           string        `json:"description"`
	NormalizedDescription string        `json:"normalized_description"`
	Source                ExampleSource `json:"source"`
	Embedding             []float32     `json:"-"`
	ID                    int64         `json:"id"`
	CategoryID            int64         `json:"category_id"`
}

// NormalizeDescription canonicalizes a transaction description into a
// stable dedup/match key: lowercased, trimmed, inner whitespace collapsed.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
