package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/reckonhq/reckon/internal/engine"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize pending transactions",
		Long: `Run one categorization batch over pending transactions. Each
transaction passes through the rule, global-pattern and similarity
tiers in order; unresolved ones are left for review.`,
		RunE: runCategorize,
	}
	cmd.Flags().String("user", "", "restrict the run to one user")
	cmd.Flags().Int("limit", 0, "max transactions to process (default: configured batch size)")
	return cmd
}

func runCategorize(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.close()

	if err := application.store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var bar *progressbar.ProgressBar
	stats, err := application.engine.Run(cmd.Context(), engine.RunOptions{
		UserID: userID,
		Limit:  limit,
		OnProgress: func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetDescription("Categorizing transactions..."),
				)
			}
			_ = bar.Set(done)
		},
	})
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	cmd.Printf("Batch %s: claimed %d, categorized %d, needs review %d, failed %d, retried %d\n",
		stats.JobID, stats.Claimed, stats.Categorized, stats.NeedsReview, stats.Failed, stats.Retried)
	return nil
}
