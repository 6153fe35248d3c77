// Package testutil provides shared helpers for package tests: an
// in-memory migrated database, a deterministic embedder, and builders
// for common fixtures.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reckonhq/reckon/internal/model"
	"github.com/reckonhq/reckon/internal/storage"
)

// SetupTestDB creates an in-memory migrated database. Migrations seed
// the default system categories, so tests can look categories up by
// name right away. The database is closed on test cleanup.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return store
}

// CategoryID looks up a seeded category by name.
func CategoryID(t *testing.T, store *storage.SQLiteStorage, name string) int64 {
	t.Helper()

	categories, err := store.GetCategories(context.Background())
	if err != nil {
		t.Fatalf("failed to load categories: %v", err)
	}
	for _, category := range categories {
		if category.Name == name {
			return category.ID
		}
	}
	t.Fatalf("category %q not seeded", name)
	return 0
}

// NewTransaction builds a pending transaction with sensible defaults.
func NewTransaction(userID, description string, amount float64) *model.Transaction {
	return &model.Transaction{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Description:         description,
		OriginalDescription: description,
		Type:                "debit",
		Date:                time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		Amount:              amount,
		Status:              model.StatusPending,
	}
}

// NewInvoice builds an unmatched invoice.
func NewInvoice(userID, vendorName string, amount float64, date time.Time) *model.Invoice {
	return &model.Invoice{
		ID:          uuid.NewString(),
		UserID:      userID,
		VendorName:  vendorName,
		TotalAmount: amount,
		InvoiceDate: date,
	}
}

// FakeEmbedder produces deterministic embeddings from token hashes.
// Texts sharing tokens get overlapping vectors, so cosine similarity
// behaves directionally like a real model: identical texts score 1.0
// and disjoint texts score near 0.
type FakeEmbedder struct {
	// Err, when set, is returned by every Embed call.
	Err error
	// Dim is the vector size; zero defaults to 64.
	Dim int
}

// Embed hashes each whitespace token into a bucket and L2-normalizes
// the result.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	dim := f.Dim
	if dim <= 0 {
		dim = 64
	}

	vector := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum32()%uint32(dim)] += 1.0 //nolint:gosec // dim is small and positive
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}
