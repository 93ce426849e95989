package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/credentials"
	"github.com/docfs/docfs/internal/cli/prompt"
	"github.com/docfs/docfs/pkg/apiclient"
)

var (
	loginServer string
	loginSecret string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the admin API",
	Long: `Authenticate with the name server's admin API and store the tokens.

The credential is the admin secret from the name server's configuration
(or its DOCFS_ADMIN_SECRET environment variable). On first login you must
specify the server URL; subsequent logins reuse the stored one.

Examples:
  # First login
  docfsctl login --server http://localhost:8090

  # Login with the secret on the command line (less secure)
  docfsctl login --server http://localhost:8090 --secret <admin-secret>

  # Re-login to the stored server
  docfsctl login`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Admin API URL (required on first login)")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Admin secret (prompted if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	serverURLStr := loginServer
	if serverURLStr == "" {
		ctx, err := store.GetCurrentContext()
		if err != nil || ctx == nil || ctx.ServerURL == "" {
			return fmt.Errorf("no server URL specified and no saved context found\n\n" +
				"Specify server URL:\n" +
				"  docfsctl login --server http://localhost:8090")
		}
		serverURLStr = ctx.ServerURL
	}

	parsedURL, err := url.Parse(serverURLStr)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "http"
		serverURLStr = parsedURL.String()
	}

	secret := loginSecret
	if secret == "" {
		secret, err = prompt.Password("Admin secret")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	client := apiclient.New(serverURLStr)

	fmt.Printf("Logging in to %s...\n", serverURLStr)
	tokens, err := client.Login(secret)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	contextName := store.GetCurrentContextName()
	if contextName == "" {
		contextName = credentials.GenerateContextName(serverURLStr)
	}

	ctx := &credentials.Context{
		ServerURL:    serverURLStr,
		Username:     "admin",
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}

	if err := store.SetContext(contextName, ctx); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	if err := store.UseContext(contextName); err != nil {
		return fmt.Errorf("failed to set current context: %w", err)
	}

	fmt.Println("Logged in successfully")
	fmt.Printf("Context: %s\n", contextName)
	fmt.Printf("Credentials saved to: %s\n", store.ConfigPath())

	return nil
}
