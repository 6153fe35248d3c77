// Package learner applies user feedback: it corrects the transaction,
// grows the user's rules and labeled examples, reinforces shared global
// patterns, and optionally propagates the correction to identical
// transactions.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/similarity"
)

// Learner mutates per-user and shared learning state from corrections.
type Learner struct {
	store              service.Storage
	embedder           similarity.Embedder
	index              similarity.Index
	verifyMinUsers     int
	verifyMinAgreement int
}

// Config holds the global pattern verification thresholds.
type Config struct {
	VerifyMinUsers     int
	VerifyMinAgreement int
}

// New creates a learner.
func New(store service.Storage, embedder similarity.Embedder, index similarity.Index, config Config) *Learner {
	if config.VerifyMinUsers <= 0 {
		config.VerifyMinUsers = 3
	}
	if config.VerifyMinAgreement <= 0 {
		config.VerifyMinAgreement = 3
	}
	return &Learner{
		store:              store,
		embedder:           embedder,
		index:              index,
		verifyMinUsers:     config.VerifyMinUsers,
		verifyMinAgreement: config.VerifyMinAgreement,
	}
}

// Feedback is one user correction.
type Feedback struct {
	SubcategoryID  *int64
	CategoryID     int64
	ApplyToSimilar bool
}

// Result reports the updated transaction and any propagation fan-out.
type Result struct {
	Transaction    *model.Transaction
	SimilarIDs     []string
	SimilarUpdated int
}

// Apply validates the feedback and then applies its effects in order:
// correct the transaction, upsert the labeled example, upsert the learned
// rule, reinforce the global pattern, and optionally propagate to
// identical uncategorized transactions. Validation failures leave all
// state untouched.
func (l *Learner) Apply(ctx context.Context, userID, transactionID string, feedback Feedback) (*Result, error) {
	txn, err := l.validate(ctx, userID, transactionID, feedback)
	if err != nil {
		return nil, err
	}

	normalized := model.NormalizeDescription(txn.Description)
	update := service.CategoryUpdate{
		CategoryID:    feedback.CategoryID,
		SubcategoryID: feedback.SubcategoryID,
		Source:        model.SourceUser,
	}

	// Effect 1: the correction itself. User intent overrides whatever
	// state the orchestrator had the row in.
	if err := l.store.ApplyUserCategory(ctx, txn.ID, update); err != nil {
		return nil, fmt.Errorf("failed to apply category: %w", err)
	}

	// Effect 2: upsert the labeled example with a fresh embedding. An
	// embedding failure degrades learning but never loses the correction.
	if err := l.upsertExample(ctx, txn, normalized, feedback); err != nil {
		return nil, err
	}

	// Effect 3: upsert a learned rule so the next identical description
	// resolves in the deterministic first tier.
	rule := &model.UserRule{
		UserID:        userID,
		Pattern:       normalized,
		PatternType:   model.PatternKeyword,
		MatchField:    model.FieldDescription,
		CategoryID:    feedback.CategoryID,
		SubcategoryID: feedback.SubcategoryID,
		IsActive:      true,
		Source:        model.RuleSourceLearned,
	}
	if err := l.store.UpsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to upsert learned rule: %w", err)
	}

	// Effect 4: reinforce the shared pattern dictionary.
	if err := l.store.ReinforceGlobalPattern(ctx, normalized, feedback.CategoryID, userID,
		l.verifyMinUsers, l.verifyMinAgreement); err != nil {
		return nil, fmt.Errorf("failed to reinforce global pattern: %w", err)
	}

	result := &Result{}

	// Effect 5: bounded propagation, strictly scoped to this user and to
	// exact normalized-description equality.
	if feedback.ApplyToSimilar {
		similar, err := l.store.FindSimilarUncategorized(ctx, userID, normalized, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find similar transactions: %w", err)
		}
		for _, sibling := range similar {
			if err := l.store.ApplyUserCategory(ctx, sibling.ID, update); err != nil {
				return nil, fmt.Errorf("failed to propagate to %s: %w", sibling.ID, err)
			}
			result.SimilarIDs = append(result.SimilarIDs, sibling.ID)
		}
		result.SimilarUpdated = len(result.SimilarIDs)
	}

	updated, err := l.store.GetTransactionByID(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transaction: %w", err)
	}
	result.Transaction = updated

	slog.Info("Applied feedback",
		"transaction_id", txn.ID,
		"category_id", feedback.CategoryID,
		"similar_updated", result.SimilarUpdated)

	return result, nil
}

// validate checks every reference before any mutation happens.
func (l *Learner) validate(ctx context.Context, userID, transactionID string, feedback Feedback) (*model.Transaction, error) {
	txn, err := l.store.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, common.ErrNotFound)
	}

	if _, err := l.store.GetCategoryByID(ctx, feedback.CategoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ValidationError("category %d does not exist", feedback.CategoryID)
		}
		return nil, err
	}

	if feedback.SubcategoryID != nil {
		sub, err := l.store.GetSubcategoryByID(ctx, *feedback.SubcategoryID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.ValidationError("subcategory %d does not exist", *feedback.SubcategoryID)
			}
			return nil, err
		}
		if sub.CategoryID != feedback.CategoryID {
			return nil, common.ValidationError("subcategory %d does not belong to category %d",
				*feedback.SubcategoryID, feedback.CategoryID)
		}
	}

	return txn, nil
}

// upsertExample writes the labeled example and mirrors it into the
// vector index. Last feedback wins: category, subcategory and embedding
// are all overwritten.
func (l *Learner) upsertExample(ctx context.Context, txn *model.Transaction, normalized string, feedback Feedback) error {
	example := &model.LabeledExample{
		UserID:                txn.UserID,
		Description:           txn.Description,
		NormalizedDescription: normalized,
		CategoryID:            feedback.CategoryID,
		SubcategoryID:         feedback.SubcategoryID,
		Source:                model.ExampleSourceFeedback,
		TransactionID:         &txn.ID,
	}

	var embedding []float32
	err := common.WithRetry(ctx, func() error {
		var embedErr error
		embedding, embedErr = l.embedder.Embed(ctx, normalized)
		return embedErr
	}, common.RetryOptions{MaxAttempts: 2, InitialDelay: 50 * time.Millisecond})
	if err != nil {
		slog.Warn("Embedding unavailable, storing example without vector",
			"transaction_id", txn.ID, "error", err)
	} else {
		example.Embedding = embedding
	}

	if err := l.store.UpsertExample(ctx, example); err != nil {
		return fmt.Errorf("failed to upsert example: %w", err)
	}

	if len(example.Embedding) > 0 {
		err := l.index.Upsert(ctx, txn.UserID, strconv.FormatInt(example.ID, 10),
			example.Embedding, feedback.CategoryID, feedback.SubcategoryID)
		if err != nil {
			return fmt.Errorf("failed to index example: %w", err)
		}
	}
	return nil
}
