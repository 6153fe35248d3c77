package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/service"
)

const transactionColumns = `id, user_id, description, original_description,
	amount, transaction_type, date, category_id, subcategory_id,
	ai_category_id, confidence, ai_explanation, categorization_status,
	category_source, is_reviewed, embedding, embedding_generated_at, created_at`

// CreateTransaction persists a new transaction in `pending` status.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	if txn.Status == "" {
		txn.Status = model.StatusPending
	}

	embedding, err := encodeEmbedding(txn.Embedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transactions (
			id, user_id, description, original_description, amount,
			transaction_type, date, category_id, subcategory_id, ai_category_id,
			confidence, ai_explanation, categorization_status, category_source,
			is_reviewed, embedding, embedding_generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, txn.Description, txn.OriginalDescription, txn.Amount,
		txn.Type, txn.Date, txn.CategoryID, txn.SubcategoryID, txn.AICategoryID,
		txn.Confidence, txn.AIExplanation, txn.Status, txn.CategorySource,
		txn.IsReviewed, embedding, txn.EmbeddingGeneratedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	txn.CreatedAt = time.Now()
	return nil
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, mapNotFound(err))
	}
	return txn, nil
}

// GetPendingTransactions retrieves up to limit pending transactions,
// oldest first. An empty userID means all users.
func (s *SQLiteStorage) GetPendingTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE categorization_status = 'pending'`
	args := []any{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	return s.queryTransactions(ctx, query, args...)
}

// ClaimTransaction atomically transitions one transaction from pending to
// processing. Returns false when another run already claimed it.
func (s *SQLiteStorage) ClaimTransaction(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions
		 SET categorization_status = 'processing'
		 WHERE id = ? AND categorization_status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check claim result: %w", err)
	}
	return affected == 1, nil
}

// ReleaseTransaction reverts a processing transaction to pending so a
// later batch run retries it.
func (s *SQLiteStorage) ReleaseTransaction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions
		 SET categorization_status = 'pending'
		 WHERE id = ? AND categorization_status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("failed to release transaction %s: %w", id, err)
	}
	return nil
}

// CompleteCategorization writes a tier's result back onto a claimed
// transaction. The guard clauses mean a concurrent user feedback always
// wins: a row the user has touched, or that is no longer processing, is
// left alone.
func (s *SQLiteStorage) CompleteCategorization(ctx context.Context, id string, result service.CategorizationResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if result.Confidence != nil {
		if err := validateConfidence(*result.Confidence); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions
		 SET category_id = ?, subcategory_id = ?, ai_category_id = ?,
		     confidence = ?, ai_explanation = ?, categorization_status = ?,
		     category_source = ?
		 WHERE id = ? AND categorization_status = 'processing' AND is_reviewed = 0`,
		result.CategoryID, result.SubcategoryID, result.AICategoryID,
		result.Confidence, result.Explanation, result.Status, result.Source, id)
	if err != nil {
		return fmt.Errorf("failed to complete categorization of %s: %w", id, err)
	}
	return nil
}

// SaveTransactionEmbedding stores a freshly computed embedding.
func (s *SQLiteStorage) SaveTransactionEmbedding(ctx context.Context, id string, embedding []float32, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE transactions SET embedding = ?, embedding_generated_at = ? WHERE id = ?`,
		encoded, at, id)
	if err != nil {
		return fmt.Errorf("failed to save embedding for %s: %w", id, err)
	}
	return nil
}

// ApplyUserCategory records a user-confirmed category on a transaction.
// The transaction becomes categorized and reviewed regardless of its
// previous state; user intent overrides automation.
func (s *SQLiteStorage) ApplyUserCategory(ctx context.Context, id string, update service.CategoryUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions
		 SET category_id = ?, subcategory_id = ?, confidence = 1.0,
		     categorization_status = 'categorized', category_source = ?,
		     is_reviewed = 1
		 WHERE id = ?`,
		update.CategoryID, update.SubcategoryID, update.Source, id)
	if err != nil {
		return fmt.Errorf("failed to apply user category to %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check category update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// FindSimilarUncategorized finds the caller's other transactions sharing
// the exact normalized description that are not already categorized.
// Propagation is deliberately scoped to normalized-description equality.
func (s *SQLiteStorage) FindSimilarUncategorized(ctx context.Context, userID, normalizedDescription, excludeID string) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(normalizedDescription, "normalizedDescription"); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		  AND id != ?
		  AND categorization_status != 'categorized'
		ORDER BY created_at ASC`
	candidates, err := s.queryTransactions(ctx, query, userID, excludeID)
	if err != nil {
		return nil, err
	}

	// Normalization collapses inner whitespace, which SQL can't express,
	// so the equality check happens here.
	matches := candidates[:0]
	for _, txn := range candidates {
		if model.NormalizeDescription(txn.Description) == normalizedDescription {
			matches = append(matches, txn)
		}
	}
	return matches, nil
}

// GetCategorizationProgress computes the durable batch aggregate for a
// user in one query. An empty userID aggregates across all users.
func (s *SQLiteStorage) GetCategorizationProgress(ctx context.Context, userID string) (*model.CategorizationProgress, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN categorization_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN categorization_status = 'processing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN categorization_status IN ('categorized','needs_review','failed') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN categorization_status = 'categorized' THEN 1 ELSE 0 END), 0)
		FROM transactions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var p model.CategorizationProgress
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.Total, &p.Pending, &p.Processing, &p.Completed, &p.Categorized)
	if err != nil {
		return nil, fmt.Errorf("failed to compute categorization progress: %w", err)
	}

	p.InProgress = p.Processing > 0 || p.Pending > 0
	if p.Total > 0 {
		p.ProgressPercent = float64(p.Completed) / float64(p.Total) * 100
	}
	return &p, nil
}

// CountPendingTransactions counts a user's pending transactions.
func (s *SQLiteStorage) CountPendingTransactions(ctx context.Context, userID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM transactions WHERE categorization_status = 'pending'`
	args := []any{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var embedding sql.NullString
	var embeddedAt sql.NullTime
	err := row.Scan(
		&txn.ID, &txn.UserID, &txn.Description, &txn.OriginalDescription,
		&txn.Amount, &txn.Type, &txn.Date, &txn.CategoryID, &txn.SubcategoryID,
		&txn.AICategoryID, &txn.Confidence, &txn.AIExplanation, &txn.Status,
		&txn.CategorySource, &txn.IsReviewed, &embedding, &embeddedAt, &txn.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if txn.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, err
	}
	if embeddedAt.Valid {
		txn.EmbeddingGeneratedAt = &embeddedAt.Time
	}
	return &txn, nil
}
