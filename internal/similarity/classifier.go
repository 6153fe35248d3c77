package similarity

import (
	"context"
	"fmt"

	"github.com/reckonhq/reckon/internal/common"
)

// Result is a similarity classification outcome.
type Result struct {
	SubcategoryID *int64
	Explanation   string
	CategoryID    int64
	Confidence    float64
}

// Classifier assigns categories by majority vote among a transaction's
// nearest labeled examples.
type Classifier struct {
	index         Index
	k             int
	minSimilarity float64
}

// NewClassifier creates a KNN classifier. k is the neighbor count per
// query; minSimilarity is the acceptance floor below which the
// classification is inconclusive.
func NewClassifier(index Index, k int, minSimilarity float64) *Classifier {
	if k <= 0 {
		k = 5
	}
	return &Classifier{
		index:         index,
		k:             k,
		minSimilarity: minSimilarity,
	}
}

// Classify votes among the top-k neighbors of vector in the user's
// example set. Ties between categories break toward the larger summed
// similarity mass. Returns (nil, nil) when inconclusive: no examples, or
// the winner's best similarity is below the acceptance floor.
func (c *Classifier) Classify(ctx context.Context, userID string, vector []float32) (*Result, error) {
	if len(vector) == 0 {
		return nil, common.ErrNoEmbedding
	}
	neighbors, err := c.index.Nearest(ctx, userID, vector, c.k)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor lookup failed: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	type tally struct {
		best  Neighbor
		votes int
		mass  float64
	}
	tallies := make(map[int64]*tally)
	for _, n := range neighbors {
		t, ok := tallies[n.CategoryID]
		if !ok {
			t = &tally{best: n}
			tallies[n.CategoryID] = t
		}
		t.votes++
		t.mass += n.Similarity
		if n.Similarity > t.best.Similarity {
			t.best = n
		}
	}

	var winner *tally
	var winnerCategory int64
	for categoryID, t := range tallies {
		if winner == nil {
			winner, winnerCategory = t, categoryID
			continue
		}
		if t.votes > winner.votes ||
			(t.votes == winner.votes && t.mass > winner.mass) ||
			(t.votes == winner.votes && t.mass == winner.mass && categoryID < winnerCategory) {
			winner, winnerCategory = t, categoryID
		}
	}

	if winner.best.Similarity < c.minSimilarity {
		return nil, nil
	}

	return &Result{
		CategoryID:    winnerCategory,
		SubcategoryID: winner.best.SubcategoryID,
		Confidence:    clampSimilarity(winner.best.Similarity),
		Explanation: fmt.Sprintf("%d of %d similar past transactions share this category (similarity %.2f)",
			winner.votes, len(neighbors), winner.best.Similarity),
	}, nil
}
