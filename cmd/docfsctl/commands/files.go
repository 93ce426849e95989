package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/pkg/apiclient"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the directory contents",
	Long: `List every entry the name server tracks, trashed ones included.

This is the admin view of the directory: unlike the client's VIEW command
it is not filtered by permissions.

Examples:
  # List all files
  docfsctl files

  # Output as YAML
  docfsctl files -o yaml`,
	RunE: runFiles,
}

// FileList renders directory entries as a table.
type FileList []apiclient.File

// Headers implements TableRenderer.
func (fl FileList) Headers() []string {
	return []string{"NAME", "OWNER", "TYPE", "SIZE", "WORDS", "REPLICAS", "TRASH"}
}

// Rows implements TableRenderer.
func (fl FileList) Rows() [][]string {
	rows := make([][]string, 0, len(fl))
	for _, f := range fl {
		kind := "file"
		if f.IsFolder {
			kind = "folder"
		}
		replicas := make([]string, 0, len(f.Replicas))
		for _, id := range f.Replicas {
			replicas = append(replicas, fmt.Sprintf("%d", id))
		}
		rows = append(rows, []string{
			f.Name,
			f.Owner,
			kind,
			fmt.Sprintf("%d", f.Size),
			fmt.Sprintf("%d", f.WordCount),
			cmdutil.EmptyOr(strings.Join(replicas, ","), "-"),
			cmdutil.BoolToYesNo(f.InTrash),
		})
	}
	return rows
}

func runFiles(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	files, err := client.ListFiles()
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, map[string]any{"files": files},
		len(files) == 0, "No files", FileList(files))
}
