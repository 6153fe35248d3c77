package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reckonhq/reckon/internal/model"
)

// UpsertExample creates a labeled example or overwrites the existing one
// for (user_id, normalized_description). Last feedback wins: category,
// subcategory and embedding are all replaced.
func (s *SQLiteStorage) UpsertExample(ctx context.Context, example *model.LabeledExample) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExample(example); err != nil {
		return err
	}

	embedding, err := encodeEmbedding(example.Embedding)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO labeled_examples (
			user_id, description, normalized_description, embedding,
			category_id, subcategory_id, source, transaction_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, normalized_description) DO UPDATE SET
			description = excluded.description,
			embedding = excluded.embedding,
			category_id = excluded.category_id,
			subcategory_id = excluded.subcategory_id,
			source = excluded.source,
			transaction_id = excluded.transaction_id,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.ExecContext(ctx, query,
		example.UserID, example.Description, example.NormalizedDescription, embedding,
		example.CategoryID, example.SubcategoryID, example.Source, example.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to upsert example: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM labeled_examples WHERE user_id = ? AND normalized_description = ?`,
		example.UserID, example.NormalizedDescription).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to read back example id: %w", err)
	}
	example.ID = id
	return nil
}

// GetExamples retrieves all labeled examples for a user.
func (s *SQLiteStorage) GetExamples(ctx context.Context, userID string) ([]model.LabeledExample, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, normalized_description, embedding,
			category_id, subcategory_id, source, transaction_id, created_at, updated_at
		 FROM labeled_examples WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get examples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var examples []model.LabeledExample
	for rows.Next() {
		var ex model.LabeledExample
		var embedding sql.NullString
		var transactionID sql.NullString
		err := rows.Scan(
			&ex.ID, &ex.UserID, &ex.Description, &ex.NormalizedDescription, &embedding,
			&ex.CategoryID, &ex.SubcategoryID, &ex.Source, &transactionID,
			&ex.CreatedAt, &ex.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan example: %w", err)
		}
		if ex.Embedding, err = decodeEmbedding(embedding); err != nil {
			return nil, err
		}
		if transactionID.Valid {
			ex.TransactionID = &transactionID.String
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating examples: %w", err)
	}
	return examples, nil
}
