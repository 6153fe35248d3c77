package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reckonhq/reckon/internal/model"
)

func TestUpsertRule_ConflictUpdatesCategoryOnly(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categories, err := store.GetCategories(ctx)
	require.NoError(t, err)
	require.Greater(t, len(categories), 1)

	rule := &model.UserRule{
		UserID:      "user-1",
		Pattern:     "uber trip",
		PatternType: model.PatternKeyword,
		MatchField:  model.FieldDescription,
		CategoryID:  categories[0].ID,
		Priority:    7,
		IsActive:    true,
		Source:      model.RuleSourceManual,
	}
	require.NoError(t, store.UpsertRule(ctx, rule))
	require.NotZero(t, rule.ID)

	// Re-learning the same pattern moves the category but keeps the
	// user's priority.
	relearned := &model.UserRule{
		UserID:      "user-1",
		Pattern:     "uber trip",
		PatternType: model.PatternKeyword,
		MatchField:  model.FieldDescription,
		CategoryID:  categories[1].ID,
		IsActive:    true,
		Source:      model.RuleSourceLearned,
	}
	require.NoError(t, store.UpsertRule(ctx, relearned))

	rules, err := store.GetActiveRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, categories[1].ID, rules[0].CategoryID)
	assert.Equal(t, 7, rules[0].Priority)
}

func TestRecordRuleMatch_IncrementsCount(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categoryID := firstCategoryID(t, store)

	rule := &model.UserRule{
		UserID:      "user-1",
		Pattern:     "netflix",
		PatternType: model.PatternKeyword,
		MatchField:  model.FieldDescription,
		CategoryID:  categoryID,
		IsActive:    true,
		Source:      model.RuleSourceManual,
	}
	require.NoError(t, store.UpsertRule(ctx, rule))

	at := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRuleMatch(ctx, rule.ID, at))
	require.NoError(t, store.RecordRuleMatch(ctx, rule.ID, at.Add(time.Hour)))

	rules, err := store.GetActiveRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 2, rules[0].MatchCount)
	require.NotNil(t, rules[0].LastMatchedAt)
}

func TestFlagRuleError_RecordsMessage(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categoryID := firstCategoryID(t, store)

	rule := &model.UserRule{
		UserID:      "user-1",
		Pattern:     `([broken`,
		PatternType: model.PatternRegex,
		MatchField:  model.FieldDescription,
		CategoryID:  categoryID,
		IsActive:    true,
		Source:      model.RuleSourceManual,
	}
	require.NoError(t, store.UpsertRule(ctx, rule))
	require.NoError(t, store.FlagRuleError(ctx, rule.ID, "error parsing regexp"))

	// The rule stays active so the owner sees it; the matcher skips
	// uncompilable patterns on its own.
	rules, err := store.GetRules(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].IsActive)
	assert.Contains(t, rules[0].LastError, "error parsing regexp")
}

func TestReinforceGlobalPattern_VerifiesAtThresholds(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categoryID := firstCategoryID(t, store)

	// Two distinct users are not enough evidence at min 3/3.
	require.NoError(t, store.ReinforceGlobalPattern(ctx, "spotify", categoryID, "user-1", 3, 3))
	require.NoError(t, store.ReinforceGlobalPattern(ctx, "spotify", categoryID, "user-2", 3, 3))

	verified, err := store.GetVerifiedGlobalPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, verified)

	// A third user pushes the pattern over both thresholds.
	require.NoError(t, store.ReinforceGlobalPattern(ctx, "spotify", categoryID, "user-3", 3, 3))

	verified, err = store.GetVerifiedGlobalPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, "spotify", verified[0].Pattern)
	assert.Equal(t, categoryID, verified[0].CategoryID)
	assert.Equal(t, 3, verified[0].UserCount)
	assert.GreaterOrEqual(t, verified[0].AgreementCount, 3)
	assert.True(t, verified[0].IsVerified)
}

func TestReinforceGlobalPattern_RepeatUserCountsOnce(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categoryID := firstCategoryID(t, store)

	// One enthusiastic user confirming five times is still one user.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.ReinforceGlobalPattern(ctx, "netflix", categoryID, "user-1", 3, 3))
	}

	verified, err := store.GetVerifiedGlobalPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, verified)
}

func TestUpsertExample_LastFeedbackWins(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()
	categories, err := store.GetCategories(ctx)
	require.NoError(t, err)
	require.Greater(t, len(categories), 1)

	example := &model.LabeledExample{
		UserID:                "user-1",
		Description:           "UBER TRIP 123",
		NormalizedDescription: "uber trip 123",
		CategoryID:            categories[0].ID,
		Source:                model.ExampleSourceFeedback,
		Embedding:             []float32{0.1, 0.2},
	}
	require.NoError(t, store.UpsertExample(ctx, example))
	firstID := example.ID
	require.NotZero(t, firstID)

	relabeled := &model.LabeledExample{
		UserID:                "user-1",
		Description:           "UBER  TRIP  123",
		NormalizedDescription: "uber trip 123",
		CategoryID:            categories[1].ID,
		Source:                model.ExampleSourceFeedback,
		Embedding:             []float32{0.3, 0.4},
	}
	require.NoError(t, store.UpsertExample(ctx, relabeled))
	assert.Equal(t, firstID, relabeled.ID)

	examples, err := store.GetExamples(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, categories[1].ID, examples[0].CategoryID)
	assert.Equal(t, []float32{0.3, 0.4}, examples[0].Embedding)
}
