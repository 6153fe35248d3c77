package model

import "time"

// MatchedBy records whether an invoice match came from scoring or a
// direct user selection.
type MatchedBy string

// Matched-by constants.
const (
	MatchedByAuto   MatchedBy = "auto"
	MatchedByManual MatchedBy = "manual"
)

// Invoice is a vendor invoice to reconcile against transactions.
// MatchedTransactionID, when present, is unique across invoices: a
// transaction settles at most one invoice.
type Invoice struct {
	InvoiceDate          time.Time  `json:"invoice_date"`
	CreatedAt            time.Time  `json:"created_at"`
	MatchedAt            *time.Time `json:"matched_at,omitempty"`
	MatchedTransactionID *string    `json:"matched_transaction_id,omitempty"`
	MatchConfidence      *float64   `json:"match_confidence,omitempty"`
	MatchedBy            *MatchedBy `json:"matched_by,omitempty"`
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	VendorName           string     `json:"vendor_name"`
	TotalAmount          float64    `json:"total_amount"`
}
