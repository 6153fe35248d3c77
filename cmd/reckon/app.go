package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/reckonhq/reckon/internal/common"
	"github.com/reckonhq/reckon/internal/config"
	"github.com/reckonhq/reckon/internal/engine"
	"github.com/reckonhq/reckon/internal/learner"
	"github.com/reckonhq/reckon/internal/reconcile"
	"github.com/reckonhq/reckon/internal/similarity"
	"github.com/reckonhq/reckon/internal/storage"
)

// app holds the fully wired service graph shared by the commands.
type app struct {
	cfg       *config.Config
	store     *storage.SQLiteStorage
	embedder  *similarity.FastEmbedProvider
	index     *similarity.ChromemIndex
	engine    *engine.Engine
	learner   *learner.Learner
	reconcile *reconcile.Service
}

// newApp builds the service graph from the loaded configuration. The
// embedding model downloads on first use, so construction can take a
// while on a fresh machine.
func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("failed to open database at %s", cfg.DatabasePath), err)
	}

	embedder, err := similarity.NewFastEmbedProvider(cfg.Embeddings.Model, cfg.Embeddings.CacheDir)
	if err != nil {
		_ = store.Close()
		return nil, common.NewUserError("failed to initialize the embedding model", err)
	}

	index, err := similarity.NewChromemIndex(cfg.Vector.Path)
	if err != nil {
		embedder.Close()
		_ = store.Close()
		return nil, common.NewUserError(fmt.Sprintf("failed to open vector index at %s", cfg.Vector.Path), err)
	}

	classifier := similarity.NewClassifier(index, cfg.Classification.KNNK, cfg.Classification.MinSimilarity)

	eng := engine.New(store, embedder, classifier, engine.Config{
		BatchSize:      cfg.Classification.BatchSize,
		HighConfidence: cfg.Classification.HighConfidence,
	})

	lrn := learner.New(store, embedder, index, learner.Config{
		VerifyMinUsers:     cfg.Learning.VerifyMinUsers,
		VerifyMinAgreement: cfg.Learning.VerifyMinAgreement,
	})

	scorer := reconcile.NewScorer(reconcile.Weights{
		Amount: cfg.Reconcile.WeightAmount,
		Date:   cfg.Reconcile.WeightDate,
		Vendor: cfg.Reconcile.WeightVendor,
	}, cfg.Reconcile.DateWindowDays)
	rec := reconcile.NewService(store, scorer, cfg.Reconcile.CandidateLimit)

	return &app{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		index:     index,
		engine:    eng,
		learner:   lrn,
		reconcile: rec,
	}, nil
}

func (a *app) close() {
	a.embedder.Close()
	if err := a.store.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}
