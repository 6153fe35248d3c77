package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/model"
)

const ruleColumns = `id, user_id, pattern, pattern_type, match_field,
	amount_min, amount_max, category_id, subcategory_id, priority,
	is_active, match_count, last_matched_at, last_error, source,
	created_at, updated_at`

// GetActiveRules retrieves a user's active rules ordered by the matcher's
// tie-break: priority, then historical reliability, then recency.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context, userID string) ([]model.UserRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM user_rules
		WHERE user_id = ? AND is_active = 1
		ORDER BY priority DESC, match_count DESC, created_at DESC, id DESC`
	return s.queryRules(ctx, query, userID)
}

// GetRules retrieves all of a user's rules, active or not.
func (s *SQLiteStorage) GetRules(ctx context.Context, userID string) ([]model.UserRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM user_rules
		WHERE user_id = ?
		ORDER BY priority DESC, created_at DESC`
	return s.queryRules(ctx, query, userID)
}

// UpsertRule creates a rule or, when (user_id, pattern) already exists,
// moves its target category/subcategory without touching its priority.
func (s *SQLiteStorage) UpsertRule(ctx context.Context, rule *model.UserRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	query := `
		INSERT INTO user_rules (
			user_id, pattern, pattern_type, match_field, amount_min, amount_max,
			category_id, subcategory_id, priority, is_active, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, pattern) DO UPDATE SET
			category_id = excluded.category_id,
			subcategory_id = excluded.subcategory_id,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		rule.UserID, rule.Pattern, rule.PatternType, rule.MatchField,
		rule.AmountMin, rule.AmountMax, rule.CategoryID, rule.SubcategoryID,
		rule.Priority, rule.IsActive, rule.Source)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM user_rules WHERE user_id = ? AND pattern = ?`,
		rule.UserID, rule.Pattern).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to read back rule id: %w", err)
	}
	rule.ID = id
	return nil
}

// RecordRuleMatch bumps a rule's match statistics after a successful match.
func (s *SQLiteStorage) RecordRuleMatch(ctx context.Context, ruleID int64, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE user_rules
		 SET match_count = match_count + 1, last_matched_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, at, ruleID)
	if err != nil {
		return fmt.Errorf("failed to record rule match: %w", err)
	}
	return nil
}

// FlagRuleError marks a rule as broken (e.g. invalid regex) for the owning
// user to fix. The rule keeps running candidacy; the matcher skips it.
func (s *SQLiteStorage) FlagRuleError(ctx context.Context, ruleID int64, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE user_rules SET last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		message, ruleID)
	if err != nil {
		return fmt.Errorf("failed to flag rule error: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.UserRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.UserRule
	for rows.Next() {
		var rule model.UserRule
		var lastMatched sql.NullTime
		err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.Pattern, &rule.PatternType, &rule.MatchField,
			&rule.AmountMin, &rule.AmountMax, &rule.CategoryID, &rule.SubcategoryID,
			&rule.Priority, &rule.IsActive, &rule.MatchCount, &lastMatched,
			&rule.LastError, &rule.Source, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if lastMatched.Valid {
			rule.LastMatchedAt = &lastMatched.Time
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}
