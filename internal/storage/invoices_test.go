package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
)

func seedInvoice(t *testing.T, store *SQLiteStorage, id, userID, vendor string, amount float64) *model.Invoice {
	t.Helper()
	invoice := &model.Invoice{
		ID:          id,
		UserID:      userID,
		VendorName:  vendor,
		TotalAmount: amount,
		InvoiceDate: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateInvoice(context.Background(), invoice))
	return invoice
}

func TestLinkInvoice_RoundTrip(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)

	linked, err := store.LinkInvoice(ctx, "inv-1", "txn-1", 0.97, model.MatchedByAuto)
	require.NoError(t, err)
	require.NotNil(t, linked.MatchedTransactionID)
	assert.Equal(t, "txn-1", *linked.MatchedTransactionID)
	require.NotNil(t, linked.MatchConfidence)
	assert.InDelta(t, 0.97, *linked.MatchConfidence, 1e-9)
	require.NotNil(t, linked.MatchedBy)
	assert.Equal(t, model.MatchedByAuto, *linked.MatchedBy)
	assert.NotNil(t, linked.MatchedAt)
}

func TestLinkInvoice_TransactionAlreadyLinked(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)
	seedInvoice(t, store, "inv-2", "user-1", "Acme Traders", 1200.00)

	_, err := store.LinkInvoice(ctx, "inv-1", "txn-1", 1.0, model.MatchedByManual)
	require.NoError(t, err)

	// The same transaction cannot settle a second invoice.
	_, err = store.LinkInvoice(ctx, "inv-2", "txn-1", 1.0, model.MatchedByManual)
	assert.ErrorIs(t, err, common.ErrAlreadyLinked)

	// The losing attempt left both invoices untouched.
	first, err := store.GetInvoiceByID(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, first.MatchedTransactionID)
	assert.Equal(t, "txn-1", *first.MatchedTransactionID)

	second, err := store.GetInvoiceByID(ctx, "inv-2")
	require.NoError(t, err)
	assert.Nil(t, second.MatchedTransactionID)
}

func TestLinkInvoice_RelinkSameInvoice(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)
	seedTransaction(t, store, "txn-2", "user-1", "ACME TRADERS WIRE", 1200.00)
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)

	_, err := store.LinkInvoice(ctx, "inv-1", "txn-1", 1.0, model.MatchedByManual)
	require.NoError(t, err)

	// Moving the invoice to a different transaction frees the first one.
	linked, err := store.LinkInvoice(ctx, "inv-1", "txn-2", 1.0, model.MatchedByManual)
	require.NoError(t, err)
	assert.Equal(t, "txn-2", *linked.MatchedTransactionID)

	seedInvoice(t, store, "inv-2", "user-1", "Acme Traders", 1200.00)
	_, err = store.LinkInvoice(ctx, "inv-2", "txn-1", 1.0, model.MatchedByManual)
	assert.NoError(t, err)
}

func TestUnlinkInvoice_ClearsAllMatchFields(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)

	_, err := store.LinkInvoice(ctx, "inv-1", "txn-1", 0.97, model.MatchedByAuto)
	require.NoError(t, err)

	unlinked, err := store.UnlinkInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, unlinked.MatchedTransactionID)
	assert.Nil(t, unlinked.MatchConfidence)
	assert.Nil(t, unlinked.MatchedAt)
	assert.Nil(t, unlinked.MatchedBy)

	// The transaction is free to settle another invoice now.
	seedInvoice(t, store, "inv-2", "user-1", "Acme Traders", 1200.00)
	_, err = store.LinkInvoice(ctx, "inv-2", "txn-1", 1.0, model.MatchedByManual)
	assert.NoError(t, err)
}

func TestUnlinkInvoice_WithoutMatch(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)

	_, err := store.UnlinkInvoice(ctx, "inv-1")
	assert.ErrorIs(t, err, common.ErrNotLinked)

	_, err = store.UnlinkInvoice(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLinkInvoice_MissingInvoice(t *testing.T) {
	store := setupDB(t)
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)

	_, err := store.LinkInvoice(context.Background(), "missing", "txn-1", 1.0, model.MatchedByManual)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetUnmatchedTransactions_ExcludesLinked(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	seedTransaction(t, store, "txn-1", "user-1", "ACME TRADERS PAYMENT", 1200.00)
	seedTransaction(t, store, "txn-2", "user-1", "SHELL FUEL", 40.00)
	seedTransaction(t, store, "txn-3", "user-2", "ACME TRADERS PAYMENT", 1200.00)
	seedInvoice(t, store, "inv-1", "user-1", "Acme Traders", 1200.00)

	_, err := store.LinkInvoice(ctx, "inv-1", "txn-1", 1.0, model.MatchedByManual)
	require.NoError(t, err)

	unmatched, err := store.GetUnmatchedTransactions(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "txn-2", unmatched[0].ID)
}
