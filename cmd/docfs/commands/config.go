package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/internal/cli/output"
	"github.com/docfs/docfs/pkg/config"
	"github.com/docfs/docfs/pkg/nameserver/api"
)

var (
	initForce      bool
	initOutputPath string
	showFormat     string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage docfs configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a configuration file",
	Long: `Generate a commented configuration file with sane defaults and a fresh
random admin API secret.

By default the file is written to the platform config directory
($XDG_CONFIG_HOME/docfs/config.yaml). Use --output to write elsewhere, and
--force to overwrite an existing file.`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after merging the config file,
environment variables and defaults.`,
	RunE: runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	configInitCmd.Flags().StringVarP(&initOutputPath, "output", "o", "", "write the config file to this path")
	configShowCmd.Flags().StringVarP(&showFormat, "format", "f", "yaml", "output format (yaml, json)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if initOutputPath != "" {
		if err := config.InitConfigToPath(initOutputPath, initForce); err != nil {
			return err
		}
		path = initOutputPath
	} else {
		var err error
		path, err = config.InitConfig(initForce)
		if err != nil {
			return err
		}
	}

	printer := output.DefaultPrinter()
	printer.Success(fmt.Sprintf("Configuration file created: %s", path))
	fmt.Println()
	fmt.Println("The file contains a generated admin API secret. Keep it private, or")
	fmt.Printf("override it with the %s environment variable.\n", api.EnvAdminSecret)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the generated file and adjust ports and paths")
	fmt.Println("  2. Start the name server:      docfs nameserver")
	fmt.Println("  3. Start a storage server:     docfs storage --id 1")
	fmt.Println("  4. Connect a client:           docfsctl shell")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	output.DefaultPrinter().Success("Configuration is valid")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}
