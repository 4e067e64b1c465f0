package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/pmdev-translator/internal/config"
	"github.com/tjfontaine/pmdev-translator/internal/relay"
	"github.com/tjfontaine/pmdev-translator/internal/server"
	"github.com/tjfontaine/pmdev-translator/internal/telemetry"
	"github.com/tjfontaine/pmdev-translator/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "relay",
		Usage: "stream PM/Dev translations from the upstream model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath,
				Usage:   "YAML config file; missing is fine",
				Sources: cli.EnvVars("TRANSLATOR_CONFIG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd.String("config"), logger)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("relay failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled, os.Stderr, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	if cfg.Upstream.APIKey == "" {
		logger.Warn("upstream API key not configured; translate requests will fail",
			slog.String("upstream", cfg.Upstream.Name),
		)
	}

	handler := relay.NewHandler(cfg.Upstream,
		relay.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		relay.WithLogger(logger),
		relay.WithTokenCounter(tokens.NewCounter()),
	)

	srv := server.New(cfg.Server.Port, logger)
	handler.Routes(srv.Router)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("relay started",
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.String("model", cfg.Upstream.Model),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping relay...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("relay shutdown complete")
	return nil
}
