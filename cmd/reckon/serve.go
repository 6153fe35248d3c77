package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/reckonhq/reckon/internal/engine"
	"github.com/reckonhq/reckon/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Start the HTTP API for transaction categorization, feedback, and
invoice reconciliation. When scheduler.categorize_cron is set, a
background sweep categorizes pending transactions on that schedule.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.close()

	if err := application.store.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	addr := application.cfg.ServerAddr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	srv := server.New(addr, application.store, application.engine, application.learner, application.reconcile)

	var scheduler *cron.Cron
	if expr := application.cfg.Scheduler.CategorizeCron; expr != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(expr, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			stats, err := application.engine.Run(ctx, engine.RunOptions{})
			if err != nil {
				slog.Error("Scheduled categorization failed", "error", err)
				return
			}
			if stats.Claimed > 0 {
				slog.Info("Scheduled categorization finished",
					"job_id", stats.JobID,
					"claimed", stats.Claimed,
					"categorized", stats.Categorized)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid scheduler.categorize_cron %q: %w", expr, err)
		}
		scheduler.Start()
		slog.Info("Categorization sweep scheduled", "cron", expr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
