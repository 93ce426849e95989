package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/docfs/docfs/internal/bytesize"
	"github.com/docfs/docfs/pkg/nameserver/api"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the docfs configuration.
//
// This structure captures static configuration for both daemons:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Name server settings (ports, limits, worker pool, snapshot path)
//   - Storage server settings (identity, ports, data directory)
//   - Metrics and admin API settings
//
// Dynamic state (the file directory, sessions, access requests) lives in the
// name server's snapshot file and is never configured here.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DOCFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// AdminAPI contains the optional read-only HTTP API served by the
	// name server. Disabled unless explicitly enabled.
	AdminAPI api.APIConfig `mapstructure:"admin_api" yaml:"admin_api"`

	// NameServer contains name server settings
	NameServer NameServerConfig `mapstructure:"nameserver" yaml:"nameserver"`

	// Storage contains storage server settings
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
// The name server additionally mounts /metrics on the admin API.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// NameServerConfig contains name server settings.
type NameServerConfig struct {
	// Host is the bind address for all name server listeners
	// Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port for client and storage server commands
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// HeartbeatPort is the TCP port for storage server heartbeats.
	// Must differ from Port.
	// Default: 8081
	HeartbeatPort int `mapstructure:"heartbeat_port" validate:"omitempty,min=1,max=65535" yaml:"heartbeat_port"`

	// MaxClients is the maximum number of client sessions (active or
	// disconnected) the server keeps
	// Default: 100
	MaxClients int `mapstructure:"max_clients" validate:"omitempty,min=1" yaml:"max_clients"`

	// MaxServers is the maximum number of storage servers that can register
	// Default: 10
	MaxServers int `mapstructure:"max_servers" validate:"omitempty,min=1" yaml:"max_servers"`

	// MaxUsersPerACL caps each of a file's read and write ACL lists
	// Default: 50
	MaxUsersPerACL int `mapstructure:"max_users_per_acl" validate:"omitempty,min=1" yaml:"max_users_per_acl"`

	// MaxRequests is the capacity of the access-request table
	// Default: 1024
	MaxRequests int `mapstructure:"max_requests" validate:"omitempty,min=1" yaml:"max_requests"`

	// ReplicationFactor is the number of storage servers that hold a copy of
	// each file (primary included), supply permitting
	// Default: 2
	ReplicationFactor int `mapstructure:"replication_factor" validate:"omitempty,min=1" yaml:"replication_factor"`

	// Workers is the size of the command worker pool
	// Default: 10
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// QueueSize is the capacity of the pending-connection queue feeding the
	// worker pool
	// Default: 1000
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,min=1" yaml:"queue_size"`

	// SnapshotPath is where the directory snapshot is persisted
	// Default: persistent/nm_data/trie.dat
	SnapshotPath string `mapstructure:"snapshot_path" yaml:"snapshot_path"`

	// Cache configures the filename -> storage server lookup cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// ConnectTimeout bounds every name server -> storage server dial
	// Default: 5s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// HeartbeatInterval is the expected spacing of storage server heartbeats.
	// The failure monitor wakes at this interval.
	// Default: 5s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// FailureTimeout marks a storage server inactive when its last heartbeat
	// is older than this
	// Default: 15s (3x heartbeat interval)
	FailureTimeout time.Duration `mapstructure:"failure_timeout" yaml:"failure_timeout"`

	// RecoverySettleDelay is how long the recovery synchronizer waits after a
	// storage server re-registers before re-pushing content, giving its
	// listeners time to come up
	// Default: 2s
	RecoverySettleDelay time.Duration `mapstructure:"recovery_settle_delay" yaml:"recovery_settle_delay"`
}

// CacheConfig configures the lookup cache in front of the directory.
type CacheConfig struct {
	// Slots is the fixed number of cache slots
	// Default: 1024
	Slots int `mapstructure:"slots" validate:"omitempty,min=1" yaml:"slots"`

	// TTL is how long a cache entry stays fresh after its last hit
	// Default: 5m
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// StorageConfig contains storage server settings.
type StorageConfig struct {
	// ID is the storage server's identity, chosen by the operator.
	// Must be unique across the fleet and stable across restarts so the
	// name server can recognize a returning server.
	ID int `mapstructure:"id" validate:"omitempty,min=1" yaml:"id"`

	// Host is the bind address for both storage server listeners
	// Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// ClientPort is the TCP port for client traffic (READ, WRITE, STREAM, ...)
	// Default: 9001
	ClientPort int `mapstructure:"client_port" validate:"omitempty,min=1,max=65535" yaml:"client_port"`

	// ManagementPort is the TCP port for name server management commands
	// (NM_CREATE, NM_DELETE, NM_WRITECONTENT, ...)
	// Default: 9002
	ManagementPort int `mapstructure:"management_port" validate:"omitempty,min=1,max=65535" yaml:"management_port"`

	// NameServerAddr is the name server's command endpoint
	// Default: 127.0.0.1:8080
	NameServerAddr string `mapstructure:"nameserver_addr" yaml:"nameserver_addr"`

	// HeartbeatAddr is the name server's heartbeat endpoint
	// Default: 127.0.0.1:8081
	HeartbeatAddr string `mapstructure:"heartbeat_addr" yaml:"heartbeat_addr"`

	// DataDir is the directory holding this server's files.
	// Default: ss_<id>_data
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// BufferSize is the chunk size for file transfers
	// Supports human-readable formats: "1Ki", "4KB"
	// Default: 1Ki
	BufferSize bytesize.ByteSize `mapstructure:"buffer_size" yaml:"buffer_size,omitempty"`

	// StreamDelay is the per-character delay for STREAM playback
	// Default: 50ms
	StreamDelay time.Duration `mapstructure:"stream_delay" yaml:"stream_delay"`

	// HeartbeatInterval is how often the heartbeat emitter pings the
	// name server
	// Default: 5s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DOCFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  docfs config init\n\n"+
				"Or specify a custom config file:\n"+
				"  docfs <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  docfs config init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	// This is important because config files may contain the admin API secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Watch watches the configuration file for changes and invokes onChange with
// each successfully reloaded configuration. Reload failures are reported to
// onError and the previous configuration stays in effect.
//
// Only safe-to-flip settings should be applied by the caller (the log level
// is the intended use); listeners are never rebound on reload.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		onError(err)
		return
	}

	v.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			onError(fmt.Errorf("failed to unmarshal config: %w", err))
			return
		}
		ApplyDefaults(&cfg)
		if err := Validate(&cfg); err != nil {
			onError(fmt.Errorf("configuration validation failed: %w", err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use DOCFS_ prefix and underscores
	// Example: DOCFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DOCFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/docfs/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use human-readable
// sizes like "1Ki", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Ki", "500Mi", "100MB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "docfs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "docfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
