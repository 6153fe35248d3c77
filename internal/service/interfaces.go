// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/model"
)

// CategoryUpdate carries a user-confirmed category assignment for a
// transaction.
type CategoryUpdate struct {
	SubcategoryID *int64
	CategoryID    int64
	Source        model.CategorySource
}

// CategorizationResult is the outcome of one tier's classification,
// written back when a claimed transaction completes processing.
type CategorizationResult struct {
	SubcategoryID *int64
	CategoryID    *int64
	AICategoryID  *int64
	Confidence    *float64
	Explanation   string
	Status        model.CategorizationStatus
	Source        model.CategorySource
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Category operations
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetSubcategoryByID(ctx context.Context, id int64) (*model.Subcategory, error)
	GetSubcategories(ctx context.Context, categoryID int64) ([]model.Subcategory, error)
	CreateCategory(ctx context.Context, category *model.Category) error
	CreateSubcategory(ctx context.Context, subcategory *model.Subcategory) error

	// Rule operations
	GetActiveRules(ctx context.Context, userID string) ([]model.UserRule, error)
	GetRules(ctx context.Context, userID string) ([]model.UserRule, error)
	UpsertRule(ctx context.Context, rule *model.UserRule) error
	RecordRuleMatch(ctx context.Context, ruleID int64, at time.Time) error
	FlagRuleError(ctx context.Context, ruleID int64, message string) error

	// Global pattern operations
	GetVerifiedGlobalPatterns(ctx context.Context) ([]model.GlobalPattern, error)
	ReinforceGlobalPattern(ctx context.Context, pattern string, categoryID int64, userID string, verifyMinUsers, verifyMinAgreement int) error
	RecordGlobalPatternMatch(ctx context.Context, patternID int64) error

	// Labeled example operations
	UpsertExample(ctx context.Context, example *model.LabeledExample) error
	GetExamples(ctx context.Context, userID string) ([]model.LabeledExample, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetPendingTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	ClaimTransaction(ctx context.Context, id string) (bool, error)
	ReleaseTransaction(ctx context.Context, id string) error
	CompleteCategorization(ctx context.Context, id string, result CategorizationResult) error
	SaveTransactionEmbedding(ctx context.Context, id string, embedding []float32, at time.Time) error
	ApplyUserCategory(ctx context.Context, id string, update CategoryUpdate) error
	FindSimilarUncategorized(ctx context.Context, userID, normalizedDescription, excludeID string) ([]model.Transaction, error)
	GetCategorizationProgress(ctx context.Context, userID string) (*model.CategorizationProgress, error)
	CountPendingTransactions(ctx context.Context, userID string) (int, error)

	// Invoice operations
	CreateInvoice(ctx context.Context, invoice *model.Invoice) error
	GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error)
	GetUnmatchedTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	LinkInvoice(ctx context.Context, invoiceID, transactionID string, confidence float64, matchedBy model.MatchedBy) (*model.Invoice, error)
	UnlinkInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
