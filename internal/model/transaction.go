package model

import "time"

// CategorizationStatus is the lifecycle state of a transaction's
// classification attempt.
type CategorizationStatus string

// Categorization status constants.
const (
	StatusPending     CategorizationStatus = "pending"
	StatusProcessing  CategorizationStatus = "processing"
	StatusCategorized CategorizationStatus = "categorized"
	StatusNeedsReview CategorizationStatus = "needs_review"
	StatusFailed      CategorizationStatus = "failed"
)

// Terminal reports whether the status ends a categorization pass.
func (s CategorizationStatus) Terminal() bool {
	switch s {
	case StatusCategorized, StatusNeedsReview, StatusFailed:
		return true
	}
	return false
}

// CategorySource records which tier (or person) assigned a category.
type CategorySource string

// Category source constants.
const (
	SourceRule          CategorySource = "rule"
	SourceGlobalPattern CategorySource = "global_pattern"
	SourceSimilarity    CategorySource = "similarity"
	SourceUser          CategorySource = "user"
)

// Transaction is a single bank transaction awaiting or holding a
// categorization. Embedding is nil until computed; a nil
// EmbeddingGeneratedAt means "needs embedding".
type Transaction struct {
	Date                 time.Time            `json:"date"`
	CreatedAt            time.Time            `json:"created_at"`
	EmbeddingGeneratedAt *time.Time           `json:"embedding_generated_at,omitempty"`
	CategoryID           *int64               `json:"category_id,omitempty"`
	SubcategoryID        *int64               `json:"subcategory_id,omitempty"`
	AICategoryID         *int64               `json:"ai_category_id,omitempty"`
	Confidence           *float64             `json:"confidence,omitempty"`
	ID                   string               `json:"id"`
	UserID               string               `json:"user_id"`
	Description          string               `json:"description"`
	OriginalDescription  string               `json:"original_description"`
	Type                 string               `json:"transaction_type"`
	AIExplanation        string               `json:"ai_explanation,omitempty"`
	Status               CategorizationStatus `json:"categorization_status"`
	CategorySource       CategorySource       `json:"category_source,omitempty"`
	Embedding            []float32            `json:"-"`
	Amount               float64              `json:"amount"`
	IsReviewed           bool                 `json:"is_reviewed"`
}

// CategorizationProgress is the durable aggregate state of a batch run,
// computed from stored rows so polling survives process restarts.
type CategorizationProgress struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Processing      int     `json:"processing"`
	Completed       int     `json:"completed"`
	Categorized     int     `json:"categorized"`
	InProgress      bool    `json:"in_progress"`
	ProgressPercent float64 `json:"progress_percent"`
}
