package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonhq/reckon/internal/engine"
	"github.com/reckonhq/reckon/internal/learner"
	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/reconcile"
	"github.com/reckonhq/reckon/internal/similarity"
	"github.com/reckonhq/reckon/internal/storage"
	"github.com/reckonhq/reckon/internal/testutil"
)

type fixture struct {
	store  *storage.SQLiteStorage
	server *Server
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := testutil.SetupTestDB(t)
	embedder := &testutil.FakeEmbedder{}
	index := similarity.NewMemoryIndex()
	classifier := similarity.NewClassifier(index, 5, 0.60)

	eng := engine.New(store, embedder, classifier, engine.DefaultConfig())
	lrn := learner.New(store, embedder, index, learner.Config{})
	rec := reconcile.NewService(store, nil, 0)

	return &fixture{
		store:  store,
		server: New(":0", store, eng, lrn, rec),
	}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	recorder := httptest.NewRecorder()
	f.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(into))
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := setup(t)
	recorder := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestMissingUserHeader_Unauthorized(t *testing.T) {
	f := setup(t)
	for _, path := range []string{"/transactions/categorization/progress", "/categories", "/rules"} {
		recorder := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, recorder.Code, path)
	}
}

func TestCreateTransaction(t *testing.T) {
	f := setup(t)
	recorder := f.do(t, http.MethodPost, "/transactions", "user-1", map[string]any{
		"description":      "STARBUCKS COFFEE",
		"amount":           5.25,
		"date":             "2025-06-15",
		"transaction_type": "debit",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var txn model.Transaction
	decode(t, recorder, &txn)
	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, "user-1", txn.UserID)
	assert.Equal(t, model.StatusPending, txn.Status)
}

func TestCreateTransaction_BadDate(t *testing.T) {
	f := setup(t)
	recorder := f.do(t, http.MethodPost, "/transactions", "user-1", map[string]any{
		"description": "STARBUCKS",
		"amount":      5.25,
		"date":        "15/06/2025",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCategorize_AcceptedWithJobID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	txn := testutil.NewTransaction("user-1", "STARBUCKS", 5.25)
	require.NoError(t, f.store.CreateTransaction(ctx, txn))

	recorder := f.do(t, http.MethodPost, "/transactions/categorize", "user-1", nil)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	var resp struct {
		JobID  string `json:"job_id"`
		Queued int    `json:"queued"`
	}
	decode(t, recorder, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, 1, resp.Queued)

	// The background run resolves the transaction; poll until terminal.
	require.Eventually(t, func() bool {
		got, err := f.store.GetTransactionByID(ctx, txn.ID)
		return err == nil && got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProgress(t *testing.T) {
	f := setup(t)
	txn := testutil.NewTransaction("user-1", "STARBUCKS", 5.25)
	require.NoError(t, f.store.CreateTransaction(context.Background(), txn))

	recorder := f.do(t, http.MethodGet, "/transactions/categorization/progress", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var progress model.CategorizationProgress
	decode(t, recorder, &progress)
	assert.Equal(t, 1, progress.Total)
	assert.Equal(t, 1, progress.Pending)
	assert.True(t, progress.InProgress)
}

func TestFeedback_EndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	categoryID := testutil.CategoryID(t, f.store, "Travel")

	target := testutil.NewTransaction("user-1", "UBER TRIP 123", 17.80)
	sibling := testutil.NewTransaction("user-1", "uber trip 123", 21.30)
	require.NoError(t, f.store.CreateTransaction(ctx, target))
	require.NoError(t, f.store.CreateTransaction(ctx, sibling))

	recorder := f.do(t, http.MethodPost, "/transactions/"+target.ID+"/feedback", "user-1", map[string]any{
		"category_id":      categoryID,
		"apply_to_similar": true,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp struct {
		Success        bool              `json:"success"`
		Transaction    model.Transaction `json:"transaction"`
		SimilarUpdated int               `json:"similar_updated"`
		SimilarIDs     []string          `json:"similar_ids"`
	}
	decode(t, recorder, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, model.StatusCategorized, resp.Transaction.Status)
	assert.Equal(t, 1, resp.SimilarUpdated)
	assert.Equal(t, []string{sibling.ID}, resp.SimilarIDs)
}

func TestFeedback_ValidationAndOwnership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	categoryID := testutil.CategoryID(t, f.store, "Travel")
	txn := testutil.NewTransaction("user-1", "UBER TRIP", 17.80)
	require.NoError(t, f.store.CreateTransaction(ctx, txn))

	// Unknown transaction.
	recorder := f.do(t, http.MethodPost, "/transactions/missing/feedback", "user-1",
		map[string]any{"category_id": categoryID})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// Someone else's transaction looks like it does not exist.
	recorder = f.do(t, http.MethodPost, "/transactions/"+txn.ID+"/feedback", "user-2",
		map[string]any{"category_id": categoryID})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// Unknown category is a validation failure.
	recorder = f.do(t, http.MethodPost, "/transactions/"+txn.ID+"/feedback", "user-1",
		map[string]any{"category_id": 99999})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// Missing category_id.
	recorder = f.do(t, http.MethodPost, "/transactions/"+txn.ID+"/feedback", "user-1",
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestInvoiceLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	txn := testutil.NewTransaction("user-1", "NEFT ACME TRADERS PVT LTD", 1200.00)
	require.NoError(t, f.store.CreateTransaction(ctx, txn))

	recorder := f.do(t, http.MethodPost, "/invoices", "user-1", map[string]any{
		"vendor_name":  "Acme Traders",
		"total_amount": 1200.00,
		"invoice_date": "2025-06-15",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var invoice model.Invoice
	decode(t, recorder, &invoice)

	recorder = f.do(t, http.MethodGet, "/invoices/"+invoice.ID+"/suggestions", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var suggestionsResp struct {
		Suggestions []reconcile.Suggestion `json:"suggestions"`
	}
	decode(t, recorder, &suggestionsResp)
	require.Len(t, suggestionsResp.Suggestions, 1)
	assert.Equal(t, txn.ID, suggestionsResp.Suggestions[0].Transaction.ID)
	assert.GreaterOrEqual(t, suggestionsResp.Suggestions[0].Score, 0.9)

	recorder = f.do(t, http.MethodPost, "/invoices/"+invoice.ID+"/link", "user-1",
		map[string]any{"transaction_id": txn.ID})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = f.do(t, http.MethodPost, "/invoices/"+invoice.ID+"/unlink", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var unlinked model.Invoice
	decode(t, recorder, &unlinked)
	assert.Nil(t, unlinked.MatchedTransactionID)
}

func TestLink_ConflictReturns409(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	txn := testutil.NewTransaction("user-1", "NEFT ACME TRADERS", 1200.00)
	require.NoError(t, f.store.CreateTransaction(ctx, txn))

	var invoiceIDs []string
	for i := 0; i < 2; i++ {
		recorder := f.do(t, http.MethodPost, "/invoices", "user-1", map[string]any{
			"vendor_name":  "Acme Traders",
			"total_amount": 1200.00,
			"invoice_date": "2025-06-15",
		})
		require.Equal(t, http.StatusCreated, recorder.Code)
		var invoice model.Invoice
		decode(t, recorder, &invoice)
		invoiceIDs = append(invoiceIDs, invoice.ID)
	}

	recorder := f.do(t, http.MethodPost, fmt.Sprintf("/invoices/%s/link", invoiceIDs[0]), "user-1",
		map[string]any{"transaction_id": txn.ID})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = f.do(t, http.MethodPost, fmt.Sprintf("/invoices/%s/link", invoiceIDs[1]), "user-1",
		map[string]any{"transaction_id": txn.ID})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestListCategoriesAndRules(t *testing.T) {
	f := setup(t)

	recorder := f.do(t, http.MethodGet, "/categories", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var categoriesResp struct {
		Categories []model.Category `json:"categories"`
	}
	decode(t, recorder, &categoriesResp)
	assert.NotEmpty(t, categoriesResp.Categories)

	recorder = f.do(t, http.MethodGet, "/rules", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestCreateCategoryAndSubcategory(t *testing.T) {
	f := setup(t)

	recorder := f.do(t, http.MethodPost, "/categories", "user-1", map[string]any{
		"name":        "Marketing",
		"description": "Advertising and promotion",
		"keywords":    []string{"ads", "campaign"},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var category model.Category
	decode(t, recorder, &category)
	require.NotZero(t, category.ID)
	assert.Equal(t, "Marketing", category.Name)

	// Category names are unique.
	recorder = f.do(t, http.MethodPost, "/categories", "user-1", map[string]any{
		"name": "Marketing",
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = f.do(t, http.MethodPost,
		fmt.Sprintf("/categories/%d/subcategories", category.ID), "user-1", map[string]any{
			"name": "Online Ads",
		})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var subcategory model.Subcategory
	decode(t, recorder, &subcategory)
	assert.Equal(t, category.ID, subcategory.CategoryID)

	// The new subcategory shows up under its parent in the listing.
	recorder = f.do(t, http.MethodGet, "/categories", "user-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var listing struct {
		Subcategories map[int64][]model.Subcategory `json:"subcategories"`
	}
	decode(t, recorder, &listing)
	require.Len(t, listing.Subcategories[category.ID], 1)
	assert.Equal(t, "Online Ads", listing.Subcategories[category.ID][0].Name)
}

func TestCreateSubcategory_Validation(t *testing.T) {
	f := setup(t)

	recorder := f.do(t, http.MethodPost, "/categories/999/subcategories", "user-1", map[string]any{
		"name": "Orphan",
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = f.do(t, http.MethodPost, "/categories/abc/subcategories", "user-1", map[string]any{
		"name": "Bad Parent",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = f.do(t, http.MethodPost, "/categories", "user-1", map[string]any{
		"description": "nameless",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
