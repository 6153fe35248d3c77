// Package model defines the core domain models for the reckon engine.
package model

import (
	"strings"
	"time"
)

// Category is a top-level bookkeeping category.
type Category struct {
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords,omitempty"`
	ID          int64     `json:"id"`
	IsSystem    bool      `json:"is_system"`
}

// Subcategory belongs to exactly one Category.
type Subcategory struct {
	CreatedAt  time.Time `json:"created_at"`
	Name       string    `json:"name"`
	Keywords   []string  `json:"keywords,omitempty"`
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	IsSystem   bool      `json:"is_system"`
}

// JoinKeywords flattens a keyword list for storage in a single TEXT column.
func JoinKeywords(keywords []string) string {
	return strings.Join(keywords, ",")
}

// SplitKeywords parses a stored keyword column back into a list.
func SplitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	return keywords
}
