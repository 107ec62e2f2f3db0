package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/config"
	"github.com/brojonat/tokenburn/service/metrics"
	natspub "github.com/brojonat/tokenburn/service/nats"
	"github.com/brojonat/tokenburn/service/server"
	"github.com/brojonat/tokenburn/service/solana"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting burnd",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"network", cfg.SolanaNetwork,
	)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	solanaClient := solana.NewClient(solana.NewRPCClient(endpoint), cfg.SolanaNetwork, cfg.ClientOptions(), m, logger)
	logger.Info("initialized solana RPC client",
		"endpoints", len(cfg.SolanaRPCURLs),
		"commitment", string(cfg.ConfirmCommitment),
	)

	checkCtx, checkCancel := context.WithTimeout(context.Background(), cfg.RPCRequestTimeout)
	if err := solanaClient.Health(checkCtx); err != nil {
		// A lagging node can recover; burns report network_unavailable until it does.
		logger.Warn("solana RPC node is not healthy at startup", "error", err)
	}
	checkCancel()

	engine, err := burn.NewEngine(cfg.EngineConfig(), solanaClient, m, logger)
	if err != nil {
		logger.Error("failed to create burn engine", "error", err)
		os.Exit(1)
	}

	// Initialize NATS publisher (optional)
	if cfg.NATSURL != "" {
		publisher, err := natspub.NewPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, m, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		engine.OnFinish(natspub.Notifier(publisher, logger))
	} else {
		logger.Info("NATS_URL not set, burn outcome notifications disabled")
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, engine, solanaClient, m, logger)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Give an in-flight burn time to reach a terminal state.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout+30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
