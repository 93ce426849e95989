package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/credentials"
	"github.com/docfs/docfs/internal/cli/prompt"
)

var logoutYes bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials",
	Long: `Clear stored credentials for the current context.

This removes the access and refresh tokens but keeps the server URL
and context configuration for easy re-login.`,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVarP(&logoutYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runLogout(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	contextName := store.GetCurrentContextName()
	if contextName == "" {
		return fmt.Errorf("not logged in - no current context")
	}

	if !logoutYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Log out from context %q", contextName), false)
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
		if !ok {
			return nil
		}
	}

	if err := store.ClearCurrentContext(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	fmt.Printf("Logged out from context: %s\n", contextName)
	return nil
}
