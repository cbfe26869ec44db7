package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/vault/gdrive"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to Google Drive",
	Long: `Authorize vaultsync to read and write its vault folders on Google Drive.

The client id and secret come from gdrive.client_id and gdrive.client_secret
in config.yaml (or VAULTSYNC_GDRIVE_CLIENT_ID / VAULTSYNC_GDRIVE_CLIENT_SECRET).`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	g := settings.GDrive
	if g.ClientID == "" || g.ClientSecret == "" {
		return fmt.Errorf("gdrive.client_id and gdrive.client_secret must be configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	auth := gdrive.NewAuthenticator(g.ClientID, g.ClientSecret, g.TokenPath)
	if _, err := auth.Authenticate(ctx, os.Stdin, stdout(cmd)); err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "Token stored at %s\n", auth.TokenPath())
	return nil
}
