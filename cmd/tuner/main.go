package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmarchjr/MLtune/internal/admin"
	"github.com/mmarchjr/MLtune/internal/alert"
	"github.com/mmarchjr/MLtune/internal/config"
	"github.com/mmarchjr/MLtune/internal/domain/model"
	"github.com/mmarchjr/MLtune/internal/eventlog"
	"github.com/mmarchjr/MLtune/internal/metrics"
	"github.com/mmarchjr/MLtune/internal/telemetry"
	"github.com/mmarchjr/MLtune/internal/tracing"
	"github.com/mmarchjr/MLtune/internal/tuner"
)

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	alerters := make([]alert.Alerter, 0, 2)
	if cfg.SlackWebhookURL != "" {
		alerters = append(alerters, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(alerters) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, alerters...)
}

func runAdminServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	specs, err := config.LoadCoefficients(cfg.Tuner.CoefficientFile)
	if err != nil {
		logger.Error("failed to load coefficient schedule", "error", err, "file", cfg.Tuner.CoefficientFile)
		os.Exit(1)
	}

	logger.Info("starting mltune-tuner",
		"broker", cfg.Telemetry.BrokerURL,
		"coefficients", len(specs),
		"autotune_enabled", cfg.Tuner.AutotuneEnabled,
		"auto_advance", cfg.Tuner.AutoAdvanceOnSuccess,
		"shot_threshold", cfg.Tuner.ShotThreshold,
		"tick_interval", cfg.Tuner.TickInterval,
		"scoring_policy", cfg.Tuner.ScoringPolicy,
		"score_sign", cfg.Tuner.ScoreSign,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "mltune-tuner",
		cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.OTLPEndpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	events, err := eventlog.New(cfg.Log.EventLogDir, logger,
		eventlog.WithFailureHook(metrics.EventLogFailuresTotal.Inc))
	if err != nil {
		logger.Error("failed to open event log", "error", err, "dir", cfg.Log.EventLogDir)
		os.Exit(1)
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("event log close error", "error", err)
		}
	}()
	logger.Info("event log opened", "session_id", events.SessionID(), "dir", cfg.Log.EventLogDir)

	link := telemetry.NewMQTTLink(cfg.Telemetry, logger)
	if err := link.Connect(context.Background()); err != nil {
		logger.Error("failed to connect telemetry link", "error", err, "broker", cfg.Telemetry.BrokerURL)
		os.Exit(1)
	}
	defer link.Close()

	alerter := buildAlerter(cfg.Alert, logger)

	coordinator, err := tuner.New(cfg.Tuner, cfg.Filter, specs, link, events, logger,
		tuner.WithAlerter(alerter),
		tuner.WithStatusPublisher(link),
	)
	if err != nil {
		logger.Error("failed to build coordinator", "error", err)
		os.Exit(1)
	}

	commands := telemetry.NewCommandSource(link.Client(), coordinator, logger)
	if err := commands.Start(context.Background()); err != nil {
		logger.Error("failed to subscribe dashboard commands", "error", err)
		os.Exit(1)
	}

	adminSrv := admin.NewServer(coordinator, coordinator, logger,
		admin.WithEventSource(events))
	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()
	adminHandler := rateLimiter.Wrap(admin.AuditMiddleware(logger, adminSrv.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runAdminServer(gCtx, cfg.Server.Port, adminHandler, logger)
	})

	g.Go(func() error {
		err := coordinator.Run(gCtx)
		// The coordinator is the reason the process exists; once it is
		// done, bring down the admin server too.
		cancel()
		return err
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			// Let the coordinator process a STOP on its next tick so
			// the session is closed and logged cleanly.
			coordinator.Enqueue(model.Command{Type: model.CommandStop})
			select {
			case <-time.After(2 * cfg.Tuner.TickInterval):
			case <-gCtx.Done():
			}
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tuner exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("tuner shut down gracefully")
}
