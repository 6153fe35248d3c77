package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/storage"
	"github.com/reckonhq/reckon/internal/testutil"
)

func setupService(t *testing.T) (*Service, *storage.SQLiteStorage) {
	t.Helper()
	store := testutil.SetupTestDB(t)
	return NewService(store, nil, 0), store
}

func seedInvoice(t *testing.T, store *storage.SQLiteStorage, userID, vendor string, amount float64, date time.Time) *model.Invoice {
	t.Helper()
	invoice := testutil.NewInvoice(userID, vendor, amount, date)
	require.NoError(t, store.CreateInvoice(context.Background(), invoice))
	return invoice
}

func TestSuggestions_RanksBestFirst(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)

	exact := testutil.NewTransaction("user-1", "NEFT ACME TRADERS PVT LTD", 1200.00)
	exact.Date = date
	near := testutil.NewTransaction("user-1", "ACME PAYMENT", 1190.00)
	near.Date = date.AddDate(0, 0, -3)
	poor := testutil.NewTransaction("user-1", "SWIGGY ORDER", 720.00)
	poor.Date = date.AddDate(0, 0, -45)
	foreign := testutil.NewTransaction("user-2", "NEFT ACME TRADERS PVT LTD", 1200.00)
	foreign.Date = date
	for _, txn := range []*model.Transaction{exact, near, poor, foreign} {
		require.NoError(t, store.CreateTransaction(ctx, txn))
	}

	suggestions, err := service.Suggestions(ctx, "user-1", invoice.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 3)

	assert.Equal(t, exact.ID, suggestions[0].Transaction.ID)
	assert.GreaterOrEqual(t, suggestions[0].Score, 0.9)
	assert.Equal(t, near.ID, suggestions[1].Transaction.ID)
	assert.Equal(t, poor.ID, suggestions[2].Transaction.ID)
	assert.LessOrEqual(t, suggestions[2].Score, 0.3)

	// Each suggestion carries its component breakdown.
	assert.InDelta(t, 1.0, suggestions[0].Breakdown.AmountScore, 1e-9)
	assert.InDelta(t, 1.0, suggestions[0].Breakdown.VendorScore, 1e-9)
}

func TestSuggestions_ExcludesAlreadyMatched(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	settled := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	open := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)

	txn := testutil.NewTransaction("user-1", "NEFT ACME TRADERS", 1200.00)
	txn.Date = date
	require.NoError(t, store.CreateTransaction(ctx, txn))

	_, err := service.Link(ctx, "user-1", settled.ID, txn.ID)
	require.NoError(t, err)

	suggestions, err := service.Suggestions(ctx, "user-1", open.ID)
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestLink_ManualIsTrustedOutright(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	// A transaction the scorer would rate poorly.
	txn := testutil.NewTransaction("user-1", "MISC PAYMENT", 900.00)
	txn.Date = date.AddDate(0, 0, -20)
	require.NoError(t, store.CreateTransaction(ctx, txn))

	linked, err := service.Link(ctx, "user-1", invoice.ID, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.MatchConfidence)
	assert.InDelta(t, 1.0, *linked.MatchConfidence, 1e-9)
	require.NotNil(t, linked.MatchedBy)
	assert.Equal(t, model.MatchedByManual, *linked.MatchedBy)
}

func TestLink_ConflictSurfacesAlreadyLinked(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	first := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	second := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	txn := testutil.NewTransaction("user-1", "NEFT ACME TRADERS", 1200.00)
	require.NoError(t, store.CreateTransaction(ctx, txn))

	_, err := service.Link(ctx, "user-1", first.ID, txn.ID)
	require.NoError(t, err)

	_, err = service.Link(ctx, "user-1", second.ID, txn.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyLinked)
}

func TestLink_ForeignResourcesHidden(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	txn := testutil.NewTransaction("user-2", "NEFT ACME TRADERS", 1200.00)
	require.NoError(t, store.CreateTransaction(ctx, txn))

	// Another user's invoice.
	_, err := service.Link(ctx, "user-2", invoice.ID, txn.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Another user's transaction.
	_, err = service.Link(ctx, "user-1", invoice.ID, txn.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUnlink_FreesBothSides(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	txn := testutil.NewTransaction("user-1", "NEFT ACME TRADERS", 1200.00)
	txn.Date = date
	require.NoError(t, store.CreateTransaction(ctx, txn))

	_, err := service.Link(ctx, "user-1", invoice.ID, txn.ID)
	require.NoError(t, err)

	unlinked, err := service.Unlink(ctx, "user-1", invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, unlinked.MatchedTransactionID)
	assert.Nil(t, unlinked.MatchConfidence)
	assert.Nil(t, unlinked.MatchedAt)
	assert.Nil(t, unlinked.MatchedBy)

	// The transaction is suggestible again.
	suggestions, err := service.Suggestions(ctx, "user-1", invoice.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, txn.ID, suggestions[0].Transaction.ID)
}

func TestAutoLink_RequiresThreshold(t *testing.T) {
	service, store := setupService(t)
	ctx := context.Background()
	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, store, "user-1", "Acme Traders", 1200.00, date)
	poor := testutil.NewTransaction("user-1", "SWIGGY ORDER", 720.00)
	poor.Date = date.AddDate(0, 0, -45)
	require.NoError(t, store.CreateTransaction(ctx, poor))

	_, err := service.AutoLink(ctx, "user-1", invoice.ID, 0.9)
	assert.ErrorIs(t, err, common.ErrInconclusive)

	exact := testutil.NewTransaction("user-1", "NEFT ACME TRADERS PVT LTD", 1200.00)
	exact.Date = date
	require.NoError(t, store.CreateTransaction(ctx, exact))

	linked, err := service.AutoLink(ctx, "user-1", invoice.ID, 0.9)
	require.NoError(t, err)
	require.NotNil(t, linked.MatchedTransactionID)
	assert.Equal(t, exact.ID, *linked.MatchedTransactionID)
	require.NotNil(t, linked.MatchedBy)
	assert.Equal(t, model.MatchedByAuto, *linked.MatchedBy)
	require.NotNil(t, linked.MatchConfidence)
	assert.GreaterOrEqual(t, *linked.MatchConfidence, 0.9)
}
