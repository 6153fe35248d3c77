// Package engine implements the categorization orchestrator: it claims
// pending transactions, runs the matching tiers in order, and writes
// category, confidence and status back to durable storage.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/rules"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/similarity"
)

// Engine orchestrates batch categorization.
type Engine struct {
	store      service.Storage
	embedder   similarity.Embedder
	classifier Classifier
	batchSize  int
	highConf   float64
}

// Config holds configuration options for the engine.
type Config struct {
	BatchSize      int
	HighConfidence float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		HighConfidence: 0.80,
	}
}

// New creates an engine with the given dependencies.
func New(store service.Storage, embedder similarity.Embedder, classifier Classifier, config Config) *Engine {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.HighConfidence <= 0 {
		config.HighConfidence = DefaultConfig().HighConfidence
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		classifier: classifier,
		batchSize:  config.BatchSize,
		highConf:   config.HighConfidence,
	}
}

// RunOptions scopes one batch run.
type RunOptions struct {
	// OnProgress, when set, is called after every processed transaction.
	OnProgress func(done, total int)
	// JobID labels the run; empty generates one.
	JobID string
	// UserID restricts the run to one user; empty means all users.
	UserID string
	// Limit caps the batch size; zero uses the configured default.
	Limit int
}

// BatchStats summarizes one batch run.
type BatchStats struct {
	JobID       string `json:"job_id"`
	Claimed     int    `json:"claimed"`
	Categorized int    `json:"categorized"`
	NeedsReview int    `json:"needs_review"`
	Failed      int    `json:"failed"`
	Retried     int    `json:"retried"`
	Skipped     int    `json:"skipped"`
}

// Run executes one batch categorization pass. Each transaction is claimed
// atomically (pending -> processing) before any work, so concurrent runs
// never double-process a row. A failing transaction is released back to
// pending and the batch continues.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*BatchStats, error) {
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	stats := &BatchStats{JobID: jobID}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.batchSize
	}

	pending, err := e.store.GetPendingTransactions(ctx, opts.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transactions: %w", err)
	}
	if len(pending) == 0 {
		slog.Info("No pending transactions", "job_id", stats.JobID)
		return stats, nil
	}

	slog.Info("Starting categorization batch",
		"job_id", stats.JobID,
		"count", len(pending),
		"user_id", opts.UserID)

	// Global patterns are cross-user; one load serves the whole batch.
	globalPatterns, err := e.store.GetVerifiedGlobalPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load global patterns: %w", err)
	}
	globalMatcher := rules.NewGlobalMatcher(globalPatterns)

	// Rule matchers are per user and reused across the batch.
	matchers := make(map[string]*rules.Matcher)

	for i := range pending {
		txn := &pending[i]

		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		claimed, claimErr := e.store.ClaimTransaction(ctx, txn.ID)
		if claimErr != nil {
			return stats, fmt.Errorf("failed to claim transaction %s: %w", txn.ID, claimErr)
		}
		if !claimed {
			// Another run got there first.
			stats.Skipped++
			continue
		}
		stats.Claimed++

		matcher, matcherErr := e.matcherFor(ctx, matchers, txn.UserID)
		if matcherErr != nil {
			e.release(ctx, txn.ID)
			return stats, matcherErr
		}

		if procErr := e.processOne(ctx, txn, matcher, globalMatcher, stats); procErr != nil {
			common.LogError(procErr, "Transaction categorization failed, releasing for retry",
				common.Fields{"transaction_id": txn.ID, "job_id": stats.JobID})
			e.release(ctx, txn.ID)
			stats.Retried++
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(pending))
		}
	}

	slog.Info("Categorization batch complete",
		"job_id", stats.JobID,
		"claimed", stats.Claimed,
		"categorized", stats.Categorized,
		"needs_review", stats.NeedsReview,
		"failed", stats.Failed,
		"retried", stats.Retried)

	return stats, nil
}

// processOne runs the tiers in order against one claimed transaction:
// user rules, then verified global patterns, then similarity. First
// success wins.
func (e *Engine) processOne(ctx context.Context, txn *model.Transaction, matcher *rules.Matcher, globalMatcher *rules.GlobalMatcher, stats *BatchStats) error {
	if match := matcher.Match(txn); match != nil {
		if err := e.store.RecordRuleMatch(ctx, match.RuleID, time.Now()); err != nil {
			return err
		}
		if err := e.complete(ctx, txn.ID, match); err != nil {
			return err
		}
		stats.Categorized++
		return nil
	}

	if match := globalMatcher.Match(txn); match != nil {
		if err := e.store.RecordGlobalPatternMatch(ctx, match.RuleID); err != nil {
			return err
		}
		if err := e.complete(ctx, txn.ID, match); err != nil {
			return err
		}
		stats.Categorized++
		return nil
	}

	vector, err := e.ensureEmbedding(ctx, txn)
	if err != nil {
		// Embedding failure is soft: the row goes back to pending and a
		// later run retries once the provider recovers.
		return fmt.Errorf("embedding unavailable: %w", err)
	}

	result, err := e.classifier.Classify(ctx, txn.UserID, vector)
	if err != nil {
		return fmt.Errorf("similarity classification failed: %w", err)
	}

	if result == nil {
		// No tier produced a usable category: needs manual categorization.
		err := e.store.CompleteCategorization(ctx, txn.ID, service.CategorizationResult{
			Status:      model.StatusFailed,
			Explanation: "no rule, shared pattern or similar transaction matched",
		})
		if err != nil {
			return err
		}
		stats.Failed++
		return nil
	}

	confidence := result.Confidence
	if confidence >= e.highConf {
		err := e.store.CompleteCategorization(ctx, txn.ID, service.CategorizationResult{
			CategoryID:    &result.CategoryID,
			SubcategoryID: result.SubcategoryID,
			AICategoryID:  &result.CategoryID,
			Confidence:    &confidence,
			Explanation:   result.Explanation,
			Status:        model.StatusCategorized,
			Source:        model.SourceSimilarity,
		})
		if err != nil {
			return err
		}
		stats.Categorized++
		return nil
	}

	// Below the acceptance bar for automatic assignment: record the
	// suggestion but leave the category for user confirmation.
	err = e.store.CompleteCategorization(ctx, txn.ID, service.CategorizationResult{
		AICategoryID: &result.CategoryID,
		Confidence:   &confidence,
		Explanation:  result.Explanation,
		Status:       model.StatusNeedsReview,
		Source:       model.SourceSimilarity,
	})
	if err != nil {
		return err
	}
	stats.NeedsReview++
	return nil
}

// ensureEmbedding returns the transaction's embedding, computing and
// persisting it first when missing. Rule and global tiers never need it.
func (e *Engine) ensureEmbedding(ctx context.Context, txn *model.Transaction) ([]float32, error) {
	if txn.EmbeddingGeneratedAt != nil && len(txn.Embedding) > 0 {
		return txn.Embedding, nil
	}

	var vector []float32
	err := common.WithRetry(ctx, func() error {
		var embedErr error
		vector, embedErr = e.embedder.Embed(ctx, model.NormalizeDescription(txn.Description))
		if embedErr != nil && ctx.Err() != nil {
			// The run is being cancelled; retrying cannot help.
			return &common.RetryableError{Err: embedErr, Retryable: false}
		}
		return embedErr
	}, common.RetryOptions{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := e.store.SaveTransactionEmbedding(ctx, txn.ID, vector, now); err != nil {
		return nil, err
	}
	txn.Embedding = vector
	txn.EmbeddingGeneratedAt = &now
	return vector, nil
}

// complete writes a rule or global pattern match. Both tiers make the
// assignment directly; their confidence is always at or above the
// automatic bar.
func (e *Engine) complete(ctx context.Context, txnID string, match *rules.Match) error {
	confidence := match.Confidence
	return e.store.CompleteCategorization(ctx, txnID, service.CategorizationResult{
		CategoryID:    &match.CategoryID,
		SubcategoryID: match.SubcategoryID,
		AICategoryID:  &match.CategoryID,
		Confidence:    &confidence,
		Explanation:   match.Explanation,
		Status:        model.StatusCategorized,
		Source:        match.Source,
	})
}

// matcherFor returns the cached rule matcher for a user, building it and
// flagging any broken regex rules on first use.
func (e *Engine) matcherFor(ctx context.Context, cache map[string]*rules.Matcher, userID string) (*rules.Matcher, error) {
	if matcher, ok := cache[userID]; ok {
		return matcher, nil
	}

	userRules, err := e.store.GetActiveRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for user %s: %w", userID, err)
	}

	matcher := rules.NewMatcher(userRules)
	for ruleID, message := range matcher.InvalidRules() {
		slog.Warn("Skipping rule with invalid regex", "rule_id", ruleID, "error", message)
		if err := e.store.FlagRuleError(ctx, ruleID, message); err != nil {
			return nil, err
		}
	}

	cache[userID] = matcher
	return matcher, nil
}

// Progress reports the durable batch aggregate for a user.
func (e *Engine) Progress(ctx context.Context, userID string) (*model.CategorizationProgress, error) {
	return e.store.GetCategorizationProgress(ctx, userID)
}

func (e *Engine) release(ctx context.Context, txnID string) {
	if err := e.store.ReleaseTransaction(ctx, txnID); err != nil {
		slog.Error("Failed to release transaction", "transaction_id", txnID, "error", err)
	}
}
