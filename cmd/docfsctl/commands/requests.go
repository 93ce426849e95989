package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/timeutil"
	"github.com/docfs/docfs/pkg/apiclient"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List access requests",
	Long: `List file access requests, resolved ones included. Pending requests
are waiting for the file owner to approve or deny them.

Examples:
  # List access requests
  docfsctl requests`,
	RunE: runRequests,
}

// RequestList renders access requests as a table.
type RequestList []apiclient.Request

// Headers implements TableRenderer.
func (rl RequestList) Headers() []string {
	return []string{"ID", "FILE", "REQUESTER", "OWNER", "KIND", "STATUS", "CREATED"}
}

// Rows implements TableRenderer.
func (rl RequestList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, r := range rl {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format(timeutil.LocalTimeFormat)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			r.File,
			r.Requester,
			r.Owner,
			r.Kind,
			r.Status,
			created,
		})
	}
	return rows
}

func runRequests(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	requests, err := client.ListRequests()
	if err != nil {
		return fmt.Errorf("failed to list access requests: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, map[string]any{"requests": requests},
		len(requests) == 0, "No access requests", RequestList(requests))
}
