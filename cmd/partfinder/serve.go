package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"partfinder/internal/api"
	"partfinder/internal/ingest"
	"partfinder/internal/llm"
	"partfinder/internal/metrics"
	"partfinder/internal/mouser"
	"partfinder/internal/store"
)

// serveCmd runs the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the HTTP API: BOM submission, project polling, cancellation,
queue length, health, and Prometheus metrics. Matching itself is done by the
worker process; serve only needs the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		s, err := store.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()

		registry := prometheus.NewRegistry()
		m := metrics.New(registry)

		// The LLM normalization pass and potential-match backfill are both
		// optional: without keys, submissions and reads still work.
		var llmClient llm.Client
		if cfg.LLM.APIKey != "" {
			gemini, err := llm.NewGeminiClient(cmd.Context(), cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, logger, m)
			if err != nil {
				return fmt.Errorf("failed to create llm client: %w", err)
			}
			llmClient = gemini
		} else {
			logger.Warn("no LLM API key; BOM normalization disabled")
		}

		var distributor api.MpnLookup
		if cfg.Server.EnableBackfill && cfg.Mouser.APIKey != "" {
			distributor = mouser.New(mouser.Config{
				APIKey:       cfg.Mouser.APIKey,
				BaseURL:      cfg.Mouser.BaseURL,
				RequestFloor: cfg.GetRequestFloor(),
				RetryWait:    cfg.GetRetryWait(),
				MaxRetries:   cfg.Mouser.MaxRetries,
				CacheMaxAge:  cfg.GetCacheMaxAge(),
			}, &http.Client{Timeout: cfg.GetMouserTimeout()}, s, logger, m)
		}

		ingestor := ingest.NewIngestor(s, llmClient, logger)
		server := api.NewServer(cfg.Server.Addr, s, ingestor, distributor, registry, logger, m)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
			return err
		}
		return nil
	},
}
