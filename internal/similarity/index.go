package similarity

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex implements Index on chromem-go, an embeddable vector
// database with cosine similarity search and gob-file persistence. One
// collection per user keeps lookups scoped to the owner.
type ChromemIndex struct {
	db *chromem.DB
}

// NewChromemIndex opens (or creates) a persistent index at path.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	return &ChromemIndex{db: db}, nil
}

// NewMemoryIndex creates a non-persistent index, used in tests.
func NewMemoryIndex() *ChromemIndex {
	return &ChromemIndex{db: chromem.NewDB()}
}

// Upsert inserts or replaces one example's vector in the user's
// collection.
func (x *ChromemIndex) Upsert(ctx context.Context, userID, exampleID string, embedding []float32, categoryID int64, subcategoryID *int64) error {
	collection, err := x.collection(userID)
	if err != nil {
		return err
	}

	// chromem has no in-place update; delete-then-add keeps the document
	// id stable across feedback overwrites.
	if err := collection.Delete(ctx, nil, nil, exampleID); err != nil {
		return fmt.Errorf("failed to clear stale vector: %w", err)
	}

	metadata := map[string]string{
		"category_id": strconv.FormatInt(categoryID, 10),
	}
	if subcategoryID != nil {
		metadata["subcategory_id"] = strconv.FormatInt(*subcategoryID, 10)
	}

	err = collection.AddDocument(ctx, chromem.Document{
		ID:        exampleID,
		Metadata:  metadata,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("failed to index example %s: %w", exampleID, err)
	}
	return nil
}

// Nearest returns up to k neighbors of vector in the user's collection,
// ranked by cosine similarity.
func (x *ChromemIndex) Nearest(ctx context.Context, userID string, vector []float32, k int) ([]Neighbor, error) {
	collection, err := x.collection(userID)
	if err != nil {
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(results))
	for _, r := range results {
		categoryID, err := strconv.ParseInt(r.Metadata["category_id"], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt category metadata on %s: %w", r.ID, err)
		}
		neighbor := Neighbor{
			ExampleID:  r.ID,
			CategoryID: categoryID,
			Similarity: clampSimilarity(float64(r.Similarity)),
		}
		if raw, ok := r.Metadata["subcategory_id"]; ok {
			subID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt subcategory metadata on %s: %w", r.ID, err)
			}
			neighbor.SubcategoryID = &subID
		}
		neighbors = append(neighbors, neighbor)
	}
	return neighbors, nil
}

func (x *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	// Embeddings are always supplied explicitly, so no embedding func is
	// registered on the collection.
	collection, err := x.db.GetOrCreateCollection("examples_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for user %s: %w", userID, err)
	}
	return collection, nil
}

// clampSimilarity bounds a cosine similarity into [0,1]. Negative
// similarity carries no signal for this use.
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
