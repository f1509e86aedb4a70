package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/altvishcoder/complianceapps/internal/admission"
	"github.com/altvishcoder/complianceapps/internal/config"
	"github.com/altvishcoder/complianceapps/internal/db"
	"github.com/altvishcoder/complianceapps/internal/intake"
	"github.com/altvishcoder/complianceapps/internal/observability"
	"github.com/altvishcoder/complianceapps/internal/server"
	"github.com/altvishcoder/complianceapps/internal/server/routes"
	"github.com/altvishcoder/complianceapps/internal/webhooks"
)

func Run() error {
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.IsLocalDevelopment() && cfg.Uploads.SigningKey == "intake-local-dev" {
		slog.Warn("INTAKE_UPLOAD_SIGNING_KEY not set, using local development fallback")
	}

	shutdownTelemetry, err := observability.SetupOpenTelemetry(context.Background(), log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	if cfg.Database.LogTiming {
		go logDBLatencyStats(log, database)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := admission.NewInProcessGate(cfg.Admission.MaxConcurrentUploads)
	limiter := admission.NewLimiter(database, cfg.Admission.RateLimitPerWindow, cfg.RateWindow())
	auth := admission.NewAuthenticator(database)

	service := intake.NewService(database, gate, intake.UploadConfig{
		BaseURL:    cfg.Uploads.BaseURL,
		TTL:        cfg.UploadURLTTL(),
		SigningKey: cfg.Uploads.SigningKey,
	}, log)

	extractor := &intake.HTTPExtractor{
		Endpoint: cfg.Extraction.Endpoint,
		Timeout:  cfg.ExtractionTimeout(),
	}

	worker := intake.NewWorker(database, extractor, intake.WorkerConfig{
		PollInterval: cfg.JobPollInterval(),
		Burst:        cfg.Jobs.WorkerBurst,
		IdleDelay:    cfg.JobIdleDelay(),
	}, service.Wake(), log)
	go worker.Run(ctx)

	reaper := intake.NewReaper(database, intake.ReaperConfig{
		Interval: cfg.ReaperInterval(),
		Timeout:  cfg.StuckJobTimeout(),
	}, log)
	go reaper.Run(ctx)

	maintenance := intake.NewMaintenance(database, limiter, intake.MaintenanceConfig{
		Interval:       cfg.WindowSweepInterval(),
		EventRetention: time.Duration(cfg.Webhooks.RetentionDays) * 24 * time.Hour,
	}, log)
	go maintenance.Run(ctx)

	dispatcher := webhooks.NewDispatcher(database, webhooks.NewHTTPSender(cfg.WebhookSendTimeout()), webhooks.DispatcherConfig{
		PollInterval: cfg.WebhookPollInterval(),
		BatchSize:    int64(cfg.Webhooks.BatchSize),
		MaxAttempts:  cfg.Webhooks.MaxAttempts,
		BackoffBase:  cfg.WebhookBackoffBase(),
		BackoffCap:   cfg.WebhookBackoffCap(),
	}, log)
	go dispatcher.Run(ctx)

	srv := server.New(log)
	srv.RegisterRouter(routes.NewIntakeRoutes(service, auth, limiter))

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("Starting server", "port", cfg.Server.Port)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func main() {
	if err := Run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func logDBLatencyStats(log *slog.Logger, database *db.Database) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := database.QueryLatencyStats()
		if len(stats) == 0 {
			continue
		}
		limit := 5
		if len(stats) < limit {
			limit = len(stats)
		}
		for index := 0; index < limit; index++ {
			entry := stats[index]
			log.Info("db_query_latency",
				"query", entry.Name,
				"count", entry.Count,
				"p50_ms", entry.P50.Milliseconds(),
				"p95_ms", entry.P95.Milliseconds(),
				"max_ms", entry.Max.Milliseconds(),
			)
		}
	}
}
