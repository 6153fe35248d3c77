package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Categories and subcategories",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					description TEXT DEFAULT '',
					keywords TEXT DEFAULT '',
					is_system INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS subcategories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					name TEXT NOT NULL,
					keywords TEXT DEFAULT '',
					is_system INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(category_id, name)
				)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return seedDefaultCategories(tx)
		},
	},
	{
		Version:     2,
		Description: "Transactions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					description TEXT NOT NULL,
					original_description TEXT NOT NULL,
					amount REAL NOT NULL,
					transaction_type TEXT DEFAULT '',
					date DATETIME NOT NULL,
					category_id INTEGER REFERENCES categories(id),
					subcategory_id INTEGER REFERENCES subcategories(id),
					ai_category_id INTEGER REFERENCES categories(id),
					confidence REAL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
					ai_explanation TEXT DEFAULT '',
					categorization_status TEXT NOT NULL DEFAULT 'pending'
						CHECK (categorization_status IN ('pending','processing','categorized','needs_review','failed')),
					category_source TEXT DEFAULT '',
					is_reviewed INTEGER DEFAULT 0,
					embedding TEXT,
					embedding_generated_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_user ON transactions(user_id)`,
				`CREATE INDEX idx_transactions_status ON transactions(categorization_status)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Rules, global patterns and labeled examples",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS user_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					pattern TEXT NOT NULL,
					pattern_type TEXT NOT NULL CHECK (pattern_type IN ('keyword','regex','amount_range')),
					match_field TEXT NOT NULL CHECK (match_field IN ('description','amount','combined')),
					amount_min REAL,
					amount_max REAL,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					subcategory_id INTEGER REFERENCES subcategories(id),
					priority INTEGER DEFAULT 0,
					is_active INTEGER DEFAULT 1,
					match_count INTEGER DEFAULT 0,
					last_matched_at DATETIME,
					last_error TEXT DEFAULT '',
					source TEXT NOT NULL DEFAULT 'manual' CHECK (source IN ('manual','learned_from_feedback')),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, pattern)
				)`,
				`CREATE INDEX idx_user_rules_user ON user_rules(user_id, is_active)`,

				`CREATE TABLE IF NOT EXISTS global_patterns (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern TEXT NOT NULL,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					occurrence_count INTEGER DEFAULT 0,
					user_count INTEGER DEFAULT 0,
					agreement_count INTEGER DEFAULT 0,
					match_count INTEGER DEFAULT 0,
					is_verified INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(pattern, category_id)
				)`,
				`CREATE INDEX idx_global_patterns_verified ON global_patterns(is_verified)`,

				`CREATE TABLE IF NOT EXISTS global_pattern_users (
					global_pattern_id INTEGER NOT NULL REFERENCES global_patterns(id),
					user_id TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(global_pattern_id, user_id)
				)`,

				`CREATE TABLE IF NOT EXISTS labeled_examples (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					description TEXT NOT NULL,
					normalized_description TEXT NOT NULL,
					embedding TEXT,
					category_id INTEGER NOT NULL REFERENCES categories(id),
					subcategory_id INTEGER REFERENCES subcategories(id),
					source TEXT NOT NULL DEFAULT 'user_feedback' CHECK (source IN ('user_feedback','seed')),
					transaction_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(user_id, normalized_description)
				)`,
				`CREATE INDEX idx_labeled_examples_user ON labeled_examples(user_id)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Invoices with one-to-one transaction matching",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS invoices (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					vendor_name TEXT NOT NULL,
					total_amount REAL NOT NULL,
					invoice_date DATETIME NOT NULL,
					matched_transaction_id TEXT REFERENCES transactions(id),
					match_confidence REAL CHECK (match_confidence IS NULL OR (match_confidence >= 0 AND match_confidence <= 1)),
					matched_at DATETIME,
					matched_by TEXT CHECK (matched_by IS NULL OR matched_by IN ('auto','manual')),
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_invoices_user ON invoices(user_id)`,
				// A transaction settles at most one invoice.
				`CREATE UNIQUE INDEX idx_invoices_matched_txn ON invoices(matched_transaction_id)
					WHERE matched_transaction_id IS NOT NULL`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// seedDefaultCategories installs the system category set on first migrate.
func seedDefaultCategories(tx *sql.Tx) error {
	seeds := []struct {
		name        string
		description string
		keywords    string
		subs        []string
	}{
		{"Income", "Money coming in", "salary,deposit,refund,interest", []string{"Sales", "Interest", "Refunds"}},
		{"Office & Admin", "Office running costs", "office,stationery,printing,software", []string{"Software", "Supplies", "Postage"}},
		{"Travel", "Travel and transport", "uber,ola,taxi,fuel,flight,train", []string{"Local Transport", "Flights", "Fuel"}},
		{"Meals & Entertainment", "Food and client entertainment", "restaurant,cafe,swiggy,zomato,coffee", []string{"Client Meals", "Staff Meals"}},
		{"Utilities", "Recurring utilities", "electricity,water,internet,phone,broadband", []string{"Internet", "Electricity", "Phone"}},
		{"Professional Services", "External professionals", "consulting,legal,accounting,audit", []string{"Legal", "Accounting"}},
		{"Rent & Facilities", "Premises costs", "rent,lease,maintenance", nil},
		{"Bank & Finance", "Bank charges and finance costs", "bank,fee,charge,emi,loan,interest", []string{"Bank Fees", "Loan Payments"}},
	}

	for _, seed := range seeds {
		result, err := tx.Exec(
			`INSERT INTO categories (name, description, keywords, is_system) VALUES (?, ?, ?, 1)`,
			seed.name, seed.description, seed.keywords)
		if err != nil {
			return fmt.Errorf("failed to seed category %q: %w", seed.name, err)
		}
		categoryID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get seeded category id: %w", err)
		}
		for _, sub := range seed.subs {
			if _, err := tx.Exec(
				`INSERT INTO subcategories (category_id, name, is_system) VALUES (?, ?, 1)`,
				categoryID, sub); err != nil {
				return fmt.Errorf("failed to seed subcategory %q: %w", sub, err)
			}
		}
	}
	return nil
}

// Migrate applies any pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	return nil
}

// SchemaVersion returns the current schema version of the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
