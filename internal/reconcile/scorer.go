// Package reconcile matches vendor invoices against bank transactions
// by scoring amount, date and vendor-name agreement.
package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/reckonhq/reckon/internal/model"
)

// Scoring constants.
const (
	// AmountTolerance is the relative difference treated as an exact
	// amount match.
	AmountTolerance = 0.005
	// AmountCutoff is the relative difference at which the amount score
	// bottoms out.
	AmountCutoff = 0.50
	// DateWindowDays is the gap at which the date score bottoms out.
	DateWindowDays = 30
)

// Weights carries the component weights of the composite score.
type Weights struct {
	Amount float64
	Date   float64
	Vendor float64
}

// DefaultWeights is the standard composite weighting.
var DefaultWeights = Weights{Amount: 0.45, Date: 0.35, Vendor: 0.20}

// Breakdown exposes the per-component scores behind a suggestion.
type Breakdown struct {
	AmountScore float64 `json:"amount_score"`
	DateScore   float64 `json:"date_score"`
	VendorScore float64 `json:"vendor_score"`
}

// Suggestion pairs a candidate transaction with its composite score.
type Suggestion struct {
	Transaction model.Transaction `json:"transaction"`
	Breakdown   Breakdown         `json:"breakdown"`
	Score       float64           `json:"score"`
}

// Scorer computes match scores between invoices and transactions.
type Scorer struct {
	weights        Weights
	dateWindowDays int
}

// NewScorer creates a scorer. Zero-valued weights fall back to
// DefaultWeights; a non-positive window falls back to DateWindowDays.
func NewScorer(weights Weights, dateWindowDays int) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if dateWindowDays <= 0 {
		dateWindowDays = DateWindowDays
	}
	return &Scorer{weights: weights, dateWindowDays: dateWindowDays}
}

// Score computes the weighted composite for one invoice/transaction
// pair, clamped to [0, 1].
func (s *Scorer) Score(invoice *model.Invoice, txn *model.Transaction) (float64, Breakdown) {
	breakdown := Breakdown{
		AmountScore: amountScore(invoice.TotalAmount, txn.Amount),
		DateScore:   s.dateScore(invoice.InvoiceDate, txn.Date),
		VendorScore: vendorScore(invoice.VendorName, txn.Description),
	}
	composite := s.weights.Amount*breakdown.AmountScore +
		s.weights.Date*breakdown.DateScore +
		s.weights.Vendor*breakdown.VendorScore
	return clamp01(composite), breakdown
}

// amountScore is 1.0 inside the relative tolerance band and decays
// linearly to 0 at the cutoff. Relative difference is taken against the
// invoice total; a zero-amount invoice only matches a zero amount.
func amountScore(invoiceAmount, txnAmount float64) float64 {
	diff := math.Abs(invoiceAmount - math.Abs(txnAmount))
	if invoiceAmount == 0 {
		if diff == 0 {
			return 1.0
		}
		return 0
	}
	rel := diff / math.Abs(invoiceAmount)
	if rel <= AmountTolerance {
		return 1.0
	}
	if rel >= AmountCutoff {
		return 0
	}
	return 1.0 - (rel-AmountTolerance)/(AmountCutoff-AmountTolerance)
}

// dateScore decays linearly from 1.0 on equal dates to 0 at the window
// edge. Only whole-day gaps matter.
func (s *Scorer) dateScore(invoiceDate, txnDate time.Time) float64 {
	days := math.Abs(invoiceDate.Sub(txnDate).Hours() / 24)
	if days >= float64(s.dateWindowDays) {
		return 0
	}
	return 1.0 - days/float64(s.dateWindowDays)
}

// vendorScore is token containment: the fraction of normalized invoice
// vendor tokens present in the normalized transaction description.
func vendorScore(vendorName, description string) float64 {
	vendorTokens := strings.Fields(model.NormalizeDescription(vendorName))
	if len(vendorTokens) == 0 {
		return 0
	}
	descTokens := strings.Fields(model.NormalizeDescription(description))
	present := make(map[string]bool, len(descTokens))
	for _, token := range descTokens {
		present[token] = true
	}
	found := 0
	for _, token := range vendorTokens {
		if present[token] {
			found++
		}
	}
	return float64(found) / float64(len(vendorTokens))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
