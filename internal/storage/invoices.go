package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
)

const invoiceColumns = `id, user_id, vendor_name, total_amount, invoice_date,
	matched_transaction_id, match_confidence, matched_at, matched_by, created_at`

// CreateInvoice persists a new, unmatched invoice.
func (s *SQLiteStorage) CreateInvoice(ctx context.Context, invoice *model.Invoice) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateInvoice(invoice); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invoices (id, user_id, vendor_name, total_amount, invoice_date)
		 VALUES (?, ?, ?, ?, ?)`,
		invoice.ID, invoice.UserID, invoice.VendorName, invoice.TotalAmount, invoice.InvoiceDate)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invoice %s: %w", invoice.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	invoice.CreatedAt = time.Now()
	return nil
}

// GetInvoiceByID retrieves a single invoice.
func (s *SQLiteStorage) GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %s: %w", id, mapNotFound(err))
	}
	return invoice, nil
}

// GetUnmatchedTransactions retrieves a user's most recent transactions not
// yet linked to any invoice, as the reconciliation candidate pool.
func (s *SQLiteStorage) GetUnmatchedTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		  AND id NOT IN (
			SELECT matched_transaction_id FROM invoices
			WHERE matched_transaction_id IS NOT NULL
		  )
		ORDER BY date DESC, id DESC
		LIMIT ?`
	return s.queryTransactions(ctx, query, userID, limit)
}

// LinkInvoice links an invoice to a transaction. The partial unique index
// on matched_transaction_id is the sole arbiter of the one-to-one match
// invariant: a transaction already linked elsewhere surfaces as
// common.ErrAlreadyLinked and no state changes.
func (s *SQLiteStorage) LinkInvoice(ctx context.Context, invoiceID, transactionID string, confidence float64, matchedBy model.MatchedBy) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}
	if err := validateConfidence(confidence); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices
		 SET matched_transaction_id = ?, match_confidence = ?,
		     matched_at = CURRENT_TIMESTAMP, matched_by = ?
		 WHERE id = ?`,
		transactionID, confidence, matchedBy, invoiceID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, common.ErrAlreadyLinked)
		}
		return nil, fmt.Errorf("failed to link invoice %s: %w", invoiceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check link result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, common.ErrNotFound)
	}

	return s.GetInvoiceByID(ctx, invoiceID)
}

// UnlinkInvoice clears an invoice's match atomically: all four match
// fields reset in one statement. Unlinking an invoice with no match is
// an error rather than a silent no-op.
func (s *SQLiteStorage) UnlinkInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invoices
		 SET matched_transaction_id = NULL, match_confidence = NULL,
		     matched_at = NULL, matched_by = NULL
		 WHERE id = ? AND matched_transaction_id IS NOT NULL`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to unlink invoice %s: %w", invoiceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check unlink result: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetInvoiceByID(ctx, invoiceID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, common.ErrNotLinked)
	}

	return s.GetInvoiceByID(ctx, invoiceID)
}

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var invoice model.Invoice
	var matchedTxn sql.NullString
	var matchedAt sql.NullTime
	var matchedBy sql.NullString
	err := row.Scan(
		&invoice.ID, &invoice.UserID, &invoice.VendorName, &invoice.TotalAmount,
		&invoice.InvoiceDate, &matchedTxn, &invoice.MatchConfidence,
		&matchedAt, &matchedBy, &invoice.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	if matchedTxn.Valid {
		invoice.MatchedTransactionID = &matchedTxn.String
	}
	if matchedAt.Valid {
		invoice.MatchedAt = &matchedAt.Time
	}
	if matchedBy.Valid {
		by := model.MatchedBy(matchedBy.String)
		invoice.MatchedBy = &by
	}
	return &invoice, nil
}
