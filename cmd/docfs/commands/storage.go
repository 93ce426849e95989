package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/internal/telemetry"
	"github.com/docfs/docfs/pkg/config"
	"github.com/docfs/docfs/pkg/metrics"
	"github.com/docfs/docfs/pkg/storage"
)

var storageID int

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Run a storage server",
	Long: `Run a docfs storage server: the data plane that holds document content,
serves redirected client traffic (READ, WRITE, STREAM, checkpoints) and
executes management commands pushed by the name server.

The server registers with the name server on startup and announces itself
with heartbeats. Its ID must be unique across the fleet and stable across
restarts so the name server can recognize a returning server and trigger
recovery instead of a fresh registration.

Examples:
  # Run storage server 1 with the default config file
  docfs storage --id 1

  # Run a second server on the same host with its own ports
  DOCFS_STORAGE_CLIENT_PORT=9101 DOCFS_STORAGE_MANAGEMENT_PORT=9102 \
    docfs storage --id 2`,
	RunE: runStorage,
}

func init() {
	storageCmd.Flags().IntVar(&storageID, "id", 0, "storage server ID (overrides config)")
}

func runStorage(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	watchLogLevel(GetConfigFile())

	id := cfg.Storage.ID
	if storageID != 0 {
		id = storageID
	}
	if id <= 0 {
		return fmt.Errorf("storage server ID is required: pass --id or set storage.id in the config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    fmt.Sprintf("docfs-storage-%d", id),
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	var ssMetrics *metrics.StorageMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		ssMetrics = metrics.NewStorageMetrics()
	}

	ss, err := storage.New(storage.Config{
		ID:                id,
		Host:              cfg.Storage.Host,
		ClientPort:        cfg.Storage.ClientPort,
		NMPort:            cfg.Storage.ManagementPort,
		NameServerAddr:    cfg.Storage.NameServerAddr,
		HeartbeatAddr:     cfg.Storage.HeartbeatAddr,
		DataDir:           cfg.Storage.DataDir,
		StreamDelay:       cfg.Storage.StreamDelay,
		HeartbeatInterval: cfg.Storage.HeartbeatInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		Metrics:           ssMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage server: %w", err)
	}

	logger.Info("starting storage server",
		"version", Version,
		"id", id,
		"client_port", cfg.Storage.ClientPort,
		"management_port", cfg.Storage.ManagementPort,
		"nameserver", cfg.Storage.NameServerAddr)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ss.Serve(ctx)
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("storage server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		ss.Stop()
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("storage server shutdown error", "error", err)
			return err
		}
		logger.Info("storage server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("storage server error", "error", err)
			return err
		}
		logger.Info("storage server stopped")
	}

	return nil
}
