package config

import (
	"fmt"

	"github.com/docfs/docfs/pkg/nameserver/api"
	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags (`validate:"..."`) cover ranges and enumerations; the checks
// below cover relationships between fields that tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry is enabled but no endpoint is configured")
	}

	if cfg.NameServer.Port == cfg.NameServer.HeartbeatPort {
		return fmt.Errorf("nameserver port and heartbeat port must differ (both %d)", cfg.NameServer.Port)
	}

	if cfg.NameServer.FailureTimeout < cfg.NameServer.HeartbeatInterval {
		return fmt.Errorf("failure timeout %s is shorter than heartbeat interval %s",
			cfg.NameServer.FailureTimeout, cfg.NameServer.HeartbeatInterval)
	}

	if cfg.Storage.ClientPort == cfg.Storage.ManagementPort {
		return fmt.Errorf("storage client port and management port must differ (both %d)", cfg.Storage.ClientPort)
	}

	if cfg.AdminAPI.Enabled && !cfg.AdminAPI.HasJWTSecret() {
		return fmt.Errorf("admin API is enabled but no JWT secret is configured (set admin_api.jwt.secret or %s)",
			api.EnvAdminSecret)
	}

	return nil
}
