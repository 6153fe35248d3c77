package engine

import (
	"context"

	"github.com/reckonhq/reckon/internal/similarity"
)

// Classifier defines the contract for the similarity tier.
type Classifier interface {
	Classify(ctx context.Context, userID string, vector []float32) (*similarity.Result, error)
}
