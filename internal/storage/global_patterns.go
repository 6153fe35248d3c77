package storage

import (
	"context"
	"fmt"

	"github.com/reckonhq/reckon/internal/model"
)

// GetVerifiedGlobalPatterns retrieves the patterns eligible as a
// classification source, ordered by the global tie-break.
func (s *SQLiteStorage) GetVerifiedGlobalPatterns(ctx context.Context) ([]model.GlobalPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, category_id, occurrence_count, user_count,
			agreement_count, match_count, is_verified, created_at, updated_at
		 FROM global_patterns
		 WHERE is_verified = 1
		 ORDER BY match_count DESC, occurrence_count DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get verified global patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.GlobalPattern
	for rows.Next() {
		var p model.GlobalPattern
		err := rows.Scan(
			&p.ID, &p.Pattern, &p.CategoryID, &p.OccurrenceCount, &p.UserCount,
			&p.AgreementCount, &p.MatchCount, &p.IsVerified, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan global pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating global patterns: %w", err)
	}
	return patterns, nil
}

// ReinforceGlobalPattern accumulates evidence for a (pattern, category)
// pair from one user's confirmed categorization. All counter updates are
// bounded row-level increments; the per-user agreement row decides whether
// the user counters move at all, so concurrent reinforcement from many
// users never loses updates.
func (s *SQLiteStorage) ReinforceGlobalPattern(ctx context.Context, pattern string, categoryID int64, userID string, verifyMinUsers, verifyMinAgreement int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(pattern, "pattern"); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Ensure the pattern row exists, then bump occurrence atomically.
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO global_patterns (pattern, category_id) VALUES (?, ?)
		 ON CONFLICT(pattern, category_id) DO NOTHING`,
		pattern, categoryID); err != nil {
		return fmt.Errorf("failed to ensure global pattern: %w", err)
	}

	var patternID int64
	if err = tx.QueryRowContext(ctx,
		`SELECT id FROM global_patterns WHERE pattern = ? AND category_id = ?`,
		pattern, categoryID).Scan(&patternID); err != nil {
		return fmt.Errorf("failed to read global pattern id: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE global_patterns
		 SET occurrence_count = occurrence_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, patternID); err != nil {
		return fmt.Errorf("failed to increment occurrence count: %w", err)
	}

	// First agreement from this user bumps the user counters exactly once.
	result, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO global_pattern_users (global_pattern_id, user_id) VALUES (?, ?)`,
		patternID, userID)
	if err != nil {
		return fmt.Errorf("failed to record user agreement: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check agreement insert: %w", err)
	}
	if inserted > 0 {
		if _, err = tx.ExecContext(ctx,
			`UPDATE global_patterns
			 SET user_count = user_count + 1, agreement_count = agreement_count + 1,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`, patternID); err != nil {
			return fmt.Errorf("failed to increment user counters: %w", err)
		}
	}

	// Promote once the thresholds are crossed; never demote.
	if _, err = tx.ExecContext(ctx,
		`UPDATE global_patterns
		 SET is_verified = 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND is_verified = 0 AND user_count >= ? AND agreement_count >= ?`,
		patternID, verifyMinUsers, verifyMinAgreement); err != nil {
		return fmt.Errorf("failed to verify global pattern: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reinforcement: %w", err)
	}
	return nil
}

// RecordGlobalPatternMatch bumps a pattern's match counter after it
// categorized a transaction.
func (s *SQLiteStorage) RecordGlobalPatternMatch(ctx context.Context, patternID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE global_patterns
		 SET match_count = match_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, patternID)
	if err != nil {
		return fmt.Errorf("failed to record global pattern match: %w", err)
	}
	return nil
}
