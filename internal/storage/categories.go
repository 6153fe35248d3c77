package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
)

// GetCategories retrieves all categories ordered by name.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, keywords, is_system, created_at
		 FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, scanErr := scanCategory(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		categories = append(categories, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

// GetCategoryByID retrieves a single category.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, keywords, is_system, created_at
		 FROM categories WHERE id = ?`, id)
	cat, err := scanCategory(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get category %d: %w", id, mapNotFound(err))
	}
	return cat, nil
}

// GetSubcategoryByID retrieves a single subcategory.
func (s *SQLiteStorage) GetSubcategoryByID(ctx context.Context, id int64) (*model.Subcategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var sub model.Subcategory
	var keywords string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category_id, name, keywords, is_system, created_at
		 FROM subcategories WHERE id = ?`, id).Scan(
		&sub.ID, &sub.CategoryID, &sub.Name, &keywords, &sub.IsSystem, &sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get subcategory %d: %w", id, mapNotFound(err))
	}
	sub.Keywords = model.SplitKeywords(keywords)
	return &sub, nil
}

// GetSubcategories retrieves the subcategories of one category.
func (s *SQLiteStorage) GetSubcategories(ctx context.Context, categoryID int64) ([]model.Subcategory, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category_id, name, keywords, is_system, created_at
		 FROM subcategories WHERE category_id = ? ORDER BY name`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subcategories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subcategory
	for rows.Next() {
		var sub model.Subcategory
		var keywords string
		if err := rows.Scan(&sub.ID, &sub.CategoryID, &sub.Name, &keywords, &sub.IsSystem, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subcategory: %w", err)
		}
		sub.Keywords = model.SplitKeywords(keywords)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subcategories: %w", err)
	}
	return subs, nil
}

// CreateCategory creates a new category.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category.Name, "category.Name"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (name, description, keywords, is_system) VALUES (?, ?, ?, ?)`,
		category.Name, category.Description, model.JoinKeywords(category.Keywords), category.IsSystem)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", category.Name, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get category ID: %w", err)
	}
	category.ID = id
	category.CreatedAt = time.Now()
	return nil
}

// CreateSubcategory creates a new subcategory under an existing category.
func (s *SQLiteStorage) CreateSubcategory(ctx context.Context, subcategory *model.Subcategory) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(subcategory.Name, "subcategory.Name"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO subcategories (category_id, name, keywords, is_system) VALUES (?, ?, ?, ?)`,
		subcategory.CategoryID, subcategory.Name, model.JoinKeywords(subcategory.Keywords), subcategory.IsSystem)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subcategory %q: %w", subcategory.Name, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create subcategory: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get subcategory ID: %w", err)
	}
	subcategory.ID = id
	subcategory.CreatedAt = time.Now()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var cat model.Category
	var keywords string
	if err := row.Scan(&cat.ID, &cat.Name, &cat.Description, &keywords, &cat.IsSystem, &cat.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	cat.Keywords = model.SplitKeywords(keywords)
	return &cat, nil
}
