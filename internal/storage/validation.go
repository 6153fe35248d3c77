// Package storage provides the data persistence layer for the reckon engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reckonhq/reckon/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidExample    = errors.New("invalid example")
	ErrInvalidTxn        = errors.New("invalid transaction")
	ErrInvalidInvoice    = errors.New("invalid invoice")
	ErrInvalidConfidence = errors.New("confidence must be in [0,1]")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateConfidence ensures a score lies in [0,1].
func validateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: got %f", ErrInvalidConfidence, c)
	}
	return nil
}

// validateRule validates a user rule before persistence.
func validateRule(rule *model.UserRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := validateString(rule.UserID, "rule.UserID"); err != nil {
		return err
	}
	if err := validateString(rule.Pattern, "rule.Pattern"); err != nil {
		return err
	}
	if !rule.PatternType.Valid() {
		return fmt.Errorf("%w: unknown pattern type %q", ErrInvalidRule, rule.PatternType)
	}
	if !rule.MatchField.Valid() {
		return fmt.Errorf("%w: unknown match field %q", ErrInvalidRule, rule.MatchField)
	}
	if rule.CategoryID == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	if rule.PatternType == model.PatternAmountRange && rule.AmountMin == nil && rule.AmountMax == nil {
		return fmt.Errorf("%w: amount_range rule needs at least one bound", ErrInvalidRule)
	}
	return nil
}

// validateExample validates a labeled example before persistence.
func validateExample(example *model.LabeledExample) error {
	if example == nil {
		return fmt.Errorf("%w: example", ErrNilParameter)
	}
	if err := validateString(example.UserID, "example.UserID"); err != nil {
		return err
	}
	if err := validateString(example.NormalizedDescription, "example.NormalizedDescription"); err != nil {
		return err
	}
	if example.CategoryID == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidExample)
	}
	return nil
}

// validateTransaction validates a transaction before persistence.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if err := validateString(txn.ID, "transaction.ID"); err != nil {
		return err
	}
	if err := validateString(txn.UserID, "transaction.UserID"); err != nil {
		return err
	}
	if err := validateString(txn.Description, "transaction.Description"); err != nil {
		return err
	}
	if txn.Confidence != nil {
		if err := validateConfidence(*txn.Confidence); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTxn, err)
		}
	}
	return nil
}

// validateInvoice validates an invoice before persistence.
func validateInvoice(invoice *model.Invoice) error {
	if invoice == nil {
		return fmt.Errorf("%w: invoice", ErrNilParameter)
	}
	if err := validateString(invoice.ID, "invoice.ID"); err != nil {
		return err
	}
	if err := validateString(invoice.UserID, "invoice.UserID"); err != nil {
		return err
	}
	if err := validateString(invoice.VendorName, "invoice.VendorName"); err != nil {
		return err
	}
	if invoice.InvoiceDate.IsZero() {
		return fmt.Errorf("%w: missing invoice date", ErrInvalidInvoice)
	}
	return nil
}
