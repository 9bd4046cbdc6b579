package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/eiro/internal/config"
	"github.com/jkaninda/eiro/internal/gateway/httpapi"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `eiro --config path` and `eiro serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts Eiro in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig(goutils.Env("EIRO_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateway == nil {
			cfg.Gateway = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateway.ListenAddr = servePort
	}
	if cfg.Gateway == nil || !cfg.Gateway.Enabled {
		return fmt.Errorf("http gateway is not enabled in config")
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenAddr := cfg.Gateway.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	gwCfg := httpapi.Config{
		ListenAddr:     listenAddr,
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKey:         cfg.Gateway.APIKey,
		MaxRequestSize: cfg.Gateway.MaxRequestSizeBytes,
	}
	if sc.Obs != nil {
		if sc.Obs.Metrics != nil {
			gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			gwCfg.Metrics = sc.Obs.Metrics
		}
		if sc.Obs.Tracer != nil {
			gwCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		gwCfg.HealthChecker = sc.Obs.Health
	}
	if cfg.Observability != nil && cfg.Observability.Metrics != nil {
		gwCfg.MetricsPath = cfg.Observability.Metrics.Path
	}

	gw := httpapi.NewGateway(gwCfg, sc.Orchestrator, sc.Incidents, logger).
		WithNotifier(sc.Notifier)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}
