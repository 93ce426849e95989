package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/credentials"
	"github.com/docfs/docfs/internal/cli/output"
	"github.com/docfs/docfs/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show name server status",
	Long: `Display the status of the connected name server.

This checks the readiness endpoint and reports whether the server is up,
how many storage servers are active, and how many files it tracks.

Examples:
  # Check status of the connected server
  docfsctl status

  # Output as JSON
  docfsctl status -o json`,
	RunE: runStatus,
}

// ServerStatus represents the name server status for display.
type ServerStatus struct {
	Server               string `json:"server" yaml:"server"`
	Status               string `json:"status" yaml:"status"`
	Healthy              bool   `json:"healthy" yaml:"healthy"`
	ActiveStorageServers int    `json:"active_storage_servers" yaml:"active_storage_servers"`
	Files                int    `json:"files" yaml:"files"`
	Error                string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	serverURL := cmdutil.Flags.ServerURL
	if serverURL == "" {
		store, err := credentials.NewStore()
		if err != nil {
			return fmt.Errorf("failed to initialize credential store: %w", err)
		}
		ctx, err := store.GetCurrentContext()
		if err != nil || ctx.ServerURL == "" {
			return fmt.Errorf("no server configured. Run 'docfsctl login' or pass --server")
		}
		serverURL = ctx.ServerURL
	}

	status := ServerStatus{
		Server:  serverURL,
		Status:  "unreachable",
		Healthy: false,
	}

	// The health endpoints are unauthenticated, so no token is needed.
	ready, err := apiclient.New(serverURL).GetReadiness()
	if err != nil {
		status.Error = err.Error()
	} else {
		status.Status = ready.Status
		status.Healthy = ready.Status == "ready"
		status.ActiveStorageServers = ready.ActiveStorageServers
		status.Files = ready.Files
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("docfs Name Server Status")
	fmt.Println("========================")
	fmt.Println()
	fmt.Printf("  Server:          %s\n", status.Server)

	if status.Healthy {
		fmt.Printf("  Status:          \033[32m● %s\033[0m\n", status.Status)
	} else if status.Status == "unreachable" {
		fmt.Printf("  Status:          \033[31m○ %s\033[0m\n", status.Status)
	} else {
		fmt.Printf("  Status:          \033[33m● %s\033[0m\n", status.Status)
	}

	if status.Healthy {
		fmt.Printf("  Storage servers: %d active\n", status.ActiveStorageServers)
		fmt.Printf("  Files:           %d\n", status.Files)
	}
	if status.Error != "" {
		fmt.Printf("  Error:           %s\n", status.Error)
	}
	fmt.Println()
}
