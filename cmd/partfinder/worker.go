package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"partfinder/internal/llm"
	"partfinder/internal/metrics"
	"partfinder/internal/mouser"
	"partfinder/internal/pipeline"
	"partfinder/internal/queue"
	"partfinder/internal/store"
)

// workerCmd runs the queue runner and matching pipeline.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue worker",
	Long: `Polls the project queue and matches BOM items against the Mouser
catalog using the configured LLM. Requires both MOUSER_API_KEY and
GEMINI_API_KEY. Run exactly one worker per database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateWorker(); err != nil {
			return err
		}

		s, err := store.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer s.Close()

		registry := prometheus.NewRegistry()
		m := metrics.New(registry)

		llmClient, err := llm.NewGeminiClient(cmd.Context(), cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, logger, m)
		if err != nil {
			return fmt.Errorf("failed to create llm client: %w", err)
		}

		distributor := mouser.New(mouser.Config{
			APIKey:       cfg.Mouser.APIKey,
			BaseURL:      cfg.Mouser.BaseURL,
			RequestFloor: cfg.GetRequestFloor(),
			RetryWait:    cfg.GetRetryWait(),
			MaxRetries:   cfg.Mouser.MaxRetries,
			CacheMaxAge:  cfg.GetCacheMaxAge(),
		}, &http.Client{Timeout: cfg.GetMouserTimeout()}, s, logger, m)

		matcher := pipeline.NewMatcher(s, llmClient, distributor, cfg.Worker.MaxCandidates, logger, m)
		worker := pipeline.NewWorker(s, matcher, cfg.Worker.PoolSize, logger, m)
		runner := queue.NewRunner(s, worker, cfg.GetPollInterval(), cfg.GetErrorBackoff(), logger, m)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var metricsServer *http.Server
		if cfg.Worker.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			metricsServer = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux}
			go func() {
				logger.Info("worker metrics listening", zap.String("addr", cfg.Worker.MetricsAddr))
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()
		}

		runner.Start(ctx)
		<-ctx.Done()

		logger.Info("shutting down worker")
		runner.Stop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	},
}
