package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docfs/docfs/internal/bytesize"
	"github.com/docfs/docfs/pkg/nameserver/api"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyAdminAPIDefaults(&cfg.AdminAPI)
	applyNameServerDefaults(&cfg.NameServer)
	applyStorageDefaults(&cfg.Storage)
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyAdminAPIDefaults sets admin API server defaults.
// The API stays disabled unless explicitly enabled.
func applyAdminAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applyNameServerDefaults sets name server defaults.
func applyNameServerDefaults(cfg *NameServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.HeartbeatPort == 0 {
		cfg.HeartbeatPort = 8081
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 100
	}
	if cfg.MaxServers == 0 {
		cfg.MaxServers = 10
	}
	if cfg.MaxUsersPerACL == 0 {
		cfg.MaxUsersPerACL = 50
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1024
	}
	if cfg.ReplicationFactor == 0 {
		cfg.ReplicationFactor = 2
	}
	if cfg.Workers == 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "persistent/nm_data/trie.dat"
	}
	if cfg.Cache.Slots == 0 {
		cfg.Cache.Slots = 1024
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.FailureTimeout == 0 {
		cfg.FailureTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.RecoverySettleDelay == 0 {
		cfg.RecoverySettleDelay = 2 * time.Second
	}
}

// applyStorageDefaults sets storage server defaults.
// The server ID has no default; it identifies the server to the fleet and
// must be chosen by the operator.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.ClientPort == 0 {
		cfg.ClientPort = 9001
	}
	if cfg.ManagementPort == 0 {
		cfg.ManagementPort = 9002
	}
	if cfg.NameServerAddr == "" {
		cfg.NameServerAddr = "127.0.0.1:8080"
	}
	if cfg.HeartbeatAddr == "" {
		cfg.HeartbeatAddr = "127.0.0.1:8081"
	}
	if cfg.DataDir == "" && cfg.ID != 0 {
		cfg.DataDir = fmt.Sprintf("ss_%d_data", cfg.ID)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = bytesize.ByteSize(bytesize.KiB)
	}
	if cfg.StreamDelay == 0 {
		cfg.StreamDelay = 50 * time.Millisecond
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
