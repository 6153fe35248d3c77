package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/reckonhq/reckon/internal/common"
)

// Config holds every tunable for the engine. Values come from viper
// (config file, RECKON_ env vars, flags) with the defaults below.
type Config struct {
	DatabasePath string
	ServerAddr   string

	Embeddings     EmbeddingsConfig
	Vector         VectorConfig
	Classification ClassificationConfig
	Learning       LearningConfig
	Reconcile      ReconcileConfig
	Scheduler      SchedulerConfig
}

// EmbeddingsConfig configures the local embedding provider.
type EmbeddingsConfig struct {
	Model    string
	CacheDir string
}

// VectorConfig configures the persistent vector index.
type VectorConfig struct {
	Path string
}

// ClassificationConfig configures the categorization tiers.
type ClassificationConfig struct {
	KNNK           int
	MinSimilarity  float64
	HighConfidence float64
	BatchSize      int
}

// LearningConfig configures global pattern verification thresholds.
type LearningConfig struct {
	VerifyMinUsers     int
	VerifyMinAgreement int
}

// ReconcileConfig configures the invoice match scorer.
type ReconcileConfig struct {
	WeightAmount   float64
	WeightDate     float64
	WeightVendor   float64
	DateWindowDays int
	CandidateLimit int
}

// SchedulerConfig configures background sweeps in serve mode.
type SchedulerConfig struct {
	CategorizeCron string
}

// SetDefaults registers every config key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/reckon/reckon.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("embeddings.model", "BAAI/bge-small-en-v1.5")
	v.SetDefault("embeddings.cache_dir", "~/.cache/reckon/models")
	v.SetDefault("vector.path", "~/.local/share/reckon/vectors")
	v.SetDefault("classification.knn_k", 5)
	v.SetDefault("classification.min_similarity", 0.60)
	v.SetDefault("classification.high_confidence", 0.80)
	v.SetDefault("classification.batch_size", 50)
	v.SetDefault("learning.verify_min_users", 3)
	v.SetDefault("learning.verify_min_agreement", 3)
	v.SetDefault("reconcile.weight_amount", 0.45)
	v.SetDefault("reconcile.weight_date", 0.35)
	v.SetDefault("reconcile.weight_vendor", 0.20)
	v.SetDefault("reconcile.date_window_days", 30)
	v.SetDefault("reconcile.candidate_limit", 200)
	v.SetDefault("scheduler.categorize_cron", "")
}

// Load reads the configuration from viper into a Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath: ExpandPath(v.GetString("database.path")),
		ServerAddr:   v.GetString("server.addr"),
		Embeddings: EmbeddingsConfig{
			Model:    v.GetString("embeddings.model"),
			CacheDir: ExpandPath(v.GetString("embeddings.cache_dir")),
		},
		Vector: VectorConfig{
			Path: ExpandPath(v.GetString("vector.path")),
		},
		Classification: ClassificationConfig{
			KNNK:           v.GetInt("classification.knn_k"),
			MinSimilarity:  v.GetFloat64("classification.min_similarity"),
			HighConfidence: v.GetFloat64("classification.high_confidence"),
			BatchSize:      v.GetInt("classification.batch_size"),
		},
		Learning: LearningConfig{
			VerifyMinUsers:     v.GetInt("learning.verify_min_users"),
			VerifyMinAgreement: v.GetInt("learning.verify_min_agreement"),
		},
		Reconcile: ReconcileConfig{
			WeightAmount:   v.GetFloat64("reconcile.weight_amount"),
			WeightDate:     v.GetFloat64("reconcile.weight_date"),
			WeightVendor:   v.GetFloat64("reconcile.weight_vendor"),
			DateWindowDays: v.GetInt("reconcile.date_window_days"),
			CandidateLimit: v.GetInt("reconcile.candidate_limit"),
		},
		Scheduler: SchedulerConfig{
			CategorizeCron: v.GetString("scheduler.categorize_cron"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required paths and bounds on the threshold and
// weight settings.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if c.Vector.Path == "" {
		return fmt.Errorf("%w: vector.path", common.ErrMissingConfig)
	}
	if c.Classification.KNNK <= 0 {
		return fmt.Errorf("%w: classification.knn_k must be positive, got %d", common.ErrInvalidConfig, c.Classification.KNNK)
	}
	if c.Classification.MinSimilarity < 0 || c.Classification.MinSimilarity > 1 {
		return fmt.Errorf("%w: classification.min_similarity must be in [0,1], got %f", common.ErrInvalidConfig, c.Classification.MinSimilarity)
	}
	if c.Classification.HighConfidence < 0 || c.Classification.HighConfidence > 1 {
		return fmt.Errorf("%w: classification.high_confidence must be in [0,1], got %f", common.ErrInvalidConfig, c.Classification.HighConfidence)
	}
	if c.Classification.BatchSize <= 0 {
		return fmt.Errorf("%w: classification.batch_size must be positive, got %d", common.ErrInvalidConfig, c.Classification.BatchSize)
	}
	total := c.Reconcile.WeightAmount + c.Reconcile.WeightDate + c.Reconcile.WeightVendor
	if total <= 0 {
		return fmt.Errorf("%w: reconcile weights must sum to a positive value, got %f", common.ErrInvalidConfig, total)
	}
	return nil
}
