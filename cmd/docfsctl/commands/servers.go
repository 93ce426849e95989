package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/timeutil"
	"github.com/docfs/docfs/pkg/apiclient"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered storage servers",
	Long: `List the storage servers registered with the name server, including
inactive ones that missed their heartbeats.

Examples:
  # List storage servers
  docfsctl servers

  # Output as JSON
  docfsctl servers -o json`,
	RunE: runServers,
}

// ServerList renders storage servers as a table.
type ServerList []apiclient.Server

// Headers implements TableRenderer.
func (sl ServerList) Headers() []string {
	return []string{"ID", "ADDRESS", "CLIENT PORT", "NM PORT", "ACTIVE", "LAST HEARTBEAT"}
}

// Rows implements TableRenderer.
func (sl ServerList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, s := range sl {
		heartbeat := "-"
		if !s.LastHeartbeat.IsZero() {
			heartbeat = s.LastHeartbeat.Local().Format(timeutil.LocalTimeFormat)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.ID),
			s.IP,
			fmt.Sprintf("%d", s.ClientPort),
			fmt.Sprintf("%d", s.NMPort),
			cmdutil.BoolToYesNo(s.Active),
			heartbeat,
		})
	}
	return rows
}

func runServers(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	servers, err := client.ListServers()
	if err != nil {
		return fmt.Errorf("failed to list storage servers: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, map[string]any{"servers": servers},
		len(servers) == 0, "No storage servers registered", ServerList(servers))
}
