package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/service"
)

// DefaultCandidateLimit bounds the unmatched-transaction pool scored
// per suggestion request.
const DefaultCandidateLimit = 200

// Service produces match suggestions and manages invoice links.
type Service struct {
	store          service.Storage
	scorer         *Scorer
	candidateLimit int
}

// NewService creates a reconciliation service.
func NewService(store service.Storage, scorer *Scorer, candidateLimit int) *Service {
	if scorer == nil {
		scorer = NewScorer(DefaultWeights, DateWindowDays)
	}
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Service{store: store, scorer: scorer, candidateLimit: candidateLimit}
}

// Suggestions scores the invoice against the user's most recent
// unmatched transactions and returns candidates sorted by composite
// score, best first. Ties break toward the more recent transaction.
func (s *Service) Suggestions(ctx context.Context, userID, invoiceID string) ([]Suggestion, error) {
	invoice, err := s.getOwnedInvoice(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.GetUnmatchedTransactions(ctx, userID, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for i := range candidates {
		score, breakdown := s.scorer.Score(invoice, &candidates[i])
		suggestions = append(suggestions, Suggestion{
			Transaction: candidates[i],
			Breakdown:   breakdown,
			Score:       score,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].Transaction.Date.After(suggestions[j].Transaction.Date)
	})

	return suggestions, nil
}

// Link ties the invoice to the transaction on the user's say-so. A
// manual link is trusted outright, so the recorded confidence is 1.0
// regardless of what the scorer would say. A transaction already
// settling another invoice surfaces as common.ErrAlreadyLinked.
func (s *Service) Link(ctx context.Context, userID, invoiceID, transactionID string) (*model.Invoice, error) {
	if _, err := s.getOwnedInvoice(ctx, userID, invoiceID); err != nil {
		return nil, err
	}

	txn, err := s.store.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, common.ErrNotFound)
	}

	linked, err := s.store.LinkInvoice(ctx, invoiceID, transactionID, 1.0, model.MatchedByManual)
	if err != nil {
		return nil, err
	}

	slog.Info("Linked invoice", "invoice_id", invoiceID, "transaction_id", transactionID)
	return linked, nil
}

// AutoLink accepts the best suggestion when it clears the threshold,
// recording the composite score and attributing the match to scoring.
// It returns common.ErrInconclusive when nothing scores high enough.
func (s *Service) AutoLink(ctx context.Context, userID, invoiceID string, minScore float64) (*model.Invoice, error) {
	suggestions, err := s.Suggestions(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 || suggestions[0].Score < minScore {
		return nil, fmt.Errorf("no candidate at or above %.2f: %w", minScore, common.ErrInconclusive)
	}

	best := suggestions[0]
	linked, err := s.store.LinkInvoice(ctx, invoiceID, best.Transaction.ID, best.Score, model.MatchedByAuto)
	if err != nil {
		return nil, err
	}

	slog.Info("Auto-linked invoice",
		"invoice_id", invoiceID,
		"transaction_id", best.Transaction.ID,
		"score", best.Score)

	return linked, nil
}

// Unlink clears the invoice's match so both sides are free again.
func (s *Service) Unlink(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
	if _, err := s.getOwnedInvoice(ctx, userID, invoiceID); err != nil {
		return nil, err
	}

	unlinked, err := s.store.UnlinkInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	slog.Info("Unlinked invoice", "invoice_id", invoiceID)
	return unlinked, nil
}

// getOwnedInvoice fetches the invoice and hides other users' invoices
// behind not-found.
func (s *Service) getOwnedInvoice(ctx context.Context, userID, invoiceID string) (*model.Invoice, error) {
	invoice, err := s.store.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, common.ErrNotFound)
	}
	return invoice, nil
}
