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
	"github.com/docfs/docfs/pkg/nameserver"
	"github.com/docfs/docfs/pkg/nameserver/api"
)

var nameserverCmd = &cobra.Command{
	Use:   "nameserver",
	Short: "Run the name server",
	Long: `Run the docfs name server: the control plane that tracks files,
permissions and replica placement, registers storage servers and clients,
monitors heartbeats, and redirects data operations to storage servers.

The directory is persisted as a snapshot and reloaded on restart.

Examples:
  # Run with the default config file
  docfs nameserver

  # Run with a custom config file
  docfs nameserver --config /etc/docfs/config.yaml

  # Override the log level for this run
  DOCFS_LOGGING_LEVEL=DEBUG docfs nameserver`,
	RunE: runNameServer,
}

func runNameServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	watchLogLevel(GetConfigFile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "docfs-nameserver",
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

	var nsMetrics *metrics.NameServerMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		nsMetrics = metrics.NewNameServerMetrics()
	}

	ns, err := nameserver.New(nameserver.Config{
		Host:                cfg.NameServer.Host,
		Port:                cfg.NameServer.Port,
		HeartbeatPort:       cfg.NameServer.HeartbeatPort,
		Workers:             cfg.NameServer.Workers,
		QueueSize:           cfg.NameServer.QueueSize,
		MaxClients:          cfg.NameServer.MaxClients,
		MaxServers:          cfg.NameServer.MaxServers,
		MaxUsersPerACL:      cfg.NameServer.MaxUsersPerACL,
		MaxRequests:         cfg.NameServer.MaxRequests,
		ReplicationFactor:   cfg.NameServer.ReplicationFactor,
		SnapshotPath:        cfg.NameServer.SnapshotPath,
		CacheSlots:          cfg.NameServer.Cache.Slots,
		CacheTTL:            cfg.NameServer.Cache.TTL,
		ConnectTimeout:      cfg.NameServer.ConnectTimeout,
		HeartbeatInterval:   cfg.NameServer.HeartbeatInterval,
		FailureTimeout:      cfg.NameServer.FailureTimeout,
		RecoverySettleDelay: cfg.NameServer.RecoverySettleDelay,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		Metrics:             nsMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create name server: %w", err)
	}

	logger.Info("starting name server",
		"version", Version,
		"port", cfg.NameServer.Port,
		"heartbeat_port", cfg.NameServer.HeartbeatPort,
		"snapshot", cfg.NameServer.SnapshotPath)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ns.Serve(ctx)
	}()

	// The standalone metrics server and the admin API are both optional;
	// the admin API also mounts /metrics when metrics are enabled.
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if cfg.AdminAPI.Enabled {
		apiServer, err := api.NewServer(cfg.AdminAPI, api.Deps{
			Directory: ns.Directory(),
			Fleet:     ns.Fleet(),
			Sessions:  ns.Sessions(),
			Requests:  ns.Requests(),
		})
		if err != nil {
			ns.Stop()
			<-serverDone
			return fmt.Errorf("failed to create admin API server: %w", err)
		}
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("admin API error", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("name server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		ns.Stop()
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("name server shutdown error", "error", err)
			return err
		}
		logger.Info("name server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("name server error", "error", err)
			return err
		}
		logger.Info("name server stopped")
	}

	return nil
}
