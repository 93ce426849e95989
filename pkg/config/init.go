package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// InitConfig creates a starter configuration file at the default location.
//
// Returns the path of the created file. Fails if a config file already
// exists unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a starter configuration file at the given path.
//
// The generated file is a commented YAML template with all defaults spelled
// out and a freshly generated admin API secret, so enabling the API later is
// a one-line change.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate admin API secret: %w", err)
	}

	content := fmt.Sprintf(configTemplate, secret)

	// 0600: the file carries the admin API secret
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateSecret returns a 64-character hex secret for JWT signing.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

const configTemplate = `# docfs Configuration File
#
# Configuration precedence: environment variables (DOCFS_*) override this
# file; this file overrides built-in defaults.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: "INFO"
  # Output format: text (colorized) or json
  format: "text"
  # Destination: stdout, stderr, or a file path
  output: "stdout"

telemetry:
  # OpenTelemetry tracing (exported over OTLP/gRPC)
  enabled: false
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 1.0

metrics:
  # Prometheus metrics, served at /metrics on the admin API
  enabled: false

# Maximum time to wait for graceful shutdown
shutdown_timeout: "30s"

nameserver:
  host: "0.0.0.0"
  # Command port for clients and storage servers
  port: 8080
  # Heartbeat port (must differ from the command port)
  heartbeat_port: 8081
  max_clients: 100
  max_servers: 10
  max_users_per_acl: 50
  max_requests: 1024
  # Copies of each file across storage servers, supply permitting
  replication_factor: 2
  workers: 10
  queue_size: 1000
  # Directory snapshot location
  snapshot_path: "persistent/nm_data/trie.dat"
  cache:
    slots: 1024
    ttl: "5m"
  connect_timeout: "5s"
  heartbeat_interval: "5s"
  failure_timeout: "15s"
  recovery_settle_delay: "2s"

storage:
  # Unique, stable identity of this storage server
  id: 1
  host: "0.0.0.0"
  client_port: 9001
  management_port: 9002
  nameserver_addr: "127.0.0.1:8080"
  heartbeat_addr: "127.0.0.1:8081"
  # Defaults to ss_<id>_data when unset
  data_dir: ""
  buffer_size: "1Ki"
  stream_delay: "50ms"
  heartbeat_interval: "5s"

admin_api:
  # Optional read-only HTTP API on the name server
  enabled: false
  port: 8090
  jwt:
    # HMAC signing key for API tokens (also DOCFS_ADMIN_SECRET)
    secret: "%s"
    access_token_duration: "15m"
    refresh_token_duration: "168h"
`
