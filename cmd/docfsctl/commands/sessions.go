package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/timeutil"
	"github.com/docfs/docfs/pkg/apiclient"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List client sessions",
	Long: `List client sessions known to the name server, disconnected ones
included. Disconnected sessions are kept so a returning user keeps their
identity.

Examples:
  # List sessions
  docfsctl sessions`,
	RunE: runSessions,
}

// SessionList renders client sessions as a table.
type SessionList []apiclient.Session

// Headers implements TableRenderer.
func (sl SessionList) Headers() []string {
	return []string{"USERNAME", "ACTIVE", "CONNECTED", "LAST SEEN"}
}

// Rows implements TableRenderer.
func (sl SessionList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, s := range sl {
		connected := "-"
		if !s.ConnectedAt.IsZero() {
			connected = s.ConnectedAt.Local().Format(timeutil.LocalTimeFormat)
		}
		lastSeen := "-"
		if !s.LastSeenAt.IsZero() {
			lastSeen = s.LastSeenAt.Local().Format(timeutil.LocalTimeFormat)
		}
		rows = append(rows, []string{
			s.Username,
			cmdutil.BoolToYesNo(s.Active),
			connected,
			lastSeen,
		})
	}
	return rows
}

func runSessions(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	sessions, err := client.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, map[string]any{"sessions": sessions},
		len(sessions) == 0, "No client sessions", SessionList(sessions))
}
