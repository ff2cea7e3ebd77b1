package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/career-assistant/internal/admission"
	"github.com/jonathan/career-assistant/internal/cache"
	"github.com/jonathan/career-assistant/internal/config"
	"github.com/jonathan/career-assistant/internal/db"
	"github.com/jonathan/career-assistant/internal/ingestion"
	"github.com/jonathan/career-assistant/internal/llm"
	"github.com/jonathan/career-assistant/internal/logger"
	"github.com/jonathan/career-assistant/internal/orchestrator"
	"github.com/jonathan/career-assistant/internal/pipeline"
	"github.com/jonathan/career-assistant/internal/registry"
	"github.com/jonathan/career-assistant/internal/server"
	"github.com/jonathan/career-assistant/internal/sweeper"
)

// Finished processes stay pollable for this long after completion.
const registryRetention = time.Hour

var (
	servePort     int
	serveConfig   string
	sweepSchedule string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for submitting CV/job-offer analyses and retrieving their reports.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to a config file")
	serveCmd.Flags().StringVar(&sweepSchedule, "sweep-schedule", "@hourly", "Cron schedule for retention sweeps")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("CAREER_DB_DSN environment variable is required")
	}
	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("CAREER_GEMINI_API_KEY environment variable is required")
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

	client, err := llm.NewClient(ctx, llm.ConfigForModel(cfg.Gemini.Model), cfg.Gemini.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create analysis client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	analyst := llm.NewAnalyst(client, log)
	normalizer := ingestion.NewNormalizer(cfg.Pipeline.FetchTimeout, cfg.Pipeline.UseBrowser, log)
	resultCache := cache.New(database, cfg.Retention.CacheMaxAge, log)
	adm := admission.New(database, admission.Limits{
		PerOrigin: int64(cfg.Limits.PerOrigin),
		Global:    int64(cfg.Limits.Global),
		Window:    cfg.Limits.Window,
	}, cfg.Retention.RequestLogMaxAge, log)
	reg := registry.New()
	runner := pipeline.NewRunner(analyst, reg, resultCache, log)
	orch := orchestrator.New(normalizer, resultCache, adm, reg, runner, cfg.Pipeline.Timeout, log)

	sw := sweeper.New(resultCache, adm, reg, registryRetention, cfg.Pipeline.Timeout, log)
	if err := sw.Start(sweepSchedule); err != nil {
		return err
	}
	defer sw.Stop()

	srv := server.New(server.Config{
		Port:               cfg.Server.Port,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		BurstLimit:         cfg.Limits.BurstLimit,
		BurstWindow:        cfg.Limits.BurstWindow,
		GeminiConfigured:   cfg.Gemini.APIKey != "",
		DatabaseConfigured: cfg.DB.DSN != "",
	}, orch, log)

	return srv.Start()
}
