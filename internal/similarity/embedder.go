// Package similarity implements the nearest-neighbor classification tier:
// an embedding provider, a vector index over labeled examples, and a
// majority-vote KNN classifier.
package similarity

import "context"

// Embedder converts text into a fixed-dimension embedding vector. The
// concrete provider is swappable; the classifier only depends on this
// capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Neighbor is one ranked result from a nearest-neighbor lookup.
type Neighbor struct {
	SubcategoryID *int64
	ExampleID     string
	CategoryID    int64
	Similarity    float64
}

// Index is the abstract nearest-neighbor capability over a user's labeled
// examples. The concrete backing store is swappable and testable with an
// in-memory fake.
type Index interface {
	Upsert(ctx context.Context, userID string, exampleID string, embedding []float32, categoryID int64, subcategoryID *int64) error
	Nearest(ctx context.Context, userID string, vector []float32, k int) ([]Neighbor, error)
}
