package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-assistant/internal/admission"
	"github.com/jonathan/career-assistant/internal/cache"
	"github.com/jonathan/career-assistant/internal/config"
	"github.com/jonathan/career-assistant/internal/db"
	"github.com/jonathan/career-assistant/internal/logger"
	"github.com/jonathan/career-assistant/internal/sweeper"
)

var sweepConfig string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep and exit",
	Long:  `Delete expired result-cache entries and aged request-log rows, then exit. Useful when sweeps run from an external scheduler instead of the serve process.`,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepConfig, "config", "", "Path to a config file")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(sweepConfig)
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("CAREER_DB_DSN environment variable is required")
	}

	log, err := logger.New(cfg.Logging.JSON, cfg.Logging.Debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	database, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.EnsureSchema(ctx); err != nil {
		return err
	}

	resultCache := cache.New(database, cfg.Retention.CacheMaxAge, log)
	adm := admission.New(database, admission.Limits{
		PerOrigin: int64(cfg.Limits.PerOrigin),
		Global:    int64(cfg.Limits.Global),
		Window:    cfg.Limits.Window,
	}, cfg.Retention.RequestLogMaxAge, log)

	return sweeper.New(resultCache, adm, nil, 0, 0, log).RunOnce(ctx)
}
