// Package commands implements the CLI commands for the docfs daemons.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docfs",
	Short: "docfs - distributed collaborative document store",
	Long: `docfs is a distributed document store with a central name server that
tracks files, permissions and replica placement, and storage servers that hold
document content and serve redirected client traffic.

Run a name server with "docfs nameserver" and one or more storage servers with
"docfs storage --id <n>". Clients connect with "docfsctl shell".

Use "docfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/docfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(nameserverCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// InitLogger initializes the structured logger from configuration, honoring
// the --log-level override.
func InitLogger(cfg *config.Config) error {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	loggerCfg := logger.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// watchLogLevel hot-reloads the log level when the config file changes. Only
// the level flips at runtime; listeners are never rebound.
func watchLogLevel(configPath string) {
	if configPath == "" {
		if !config.DefaultConfigExists() {
			return
		}
		configPath = config.GetDefaultConfigPath()
	}
	config.Watch(configPath,
		func(cfg *config.Config) {
			if logLevel != "" {
				return // flag override wins
			}
			logger.SetLevel(cfg.Logging.Level)
			logger.Info("log level reloaded", "level", cfg.Logging.Level)
		},
		func(err error) {
			logger.Warn("config reload failed", "error", err)
		},
	)
}
