// Package cli implements the vaultsync command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/config"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/service"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/vault"
	"github.com/Ning0612/vaultsync/internal/vault/gdrive"
	"github.com/Ning0612/vaultsync/internal/vault/memory"
)

// GlobalFlags are shared by every command
type GlobalFlags struct {
	ConfigFile string
	Offline    bool
	Quiet      bool
	Verbose    bool
}

var (
	globalFlags GlobalFlags
	settings    *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "vaultsync",
	Short: "Keep Markdown vaults in sync with local directories",
	Long: `vaultsync mirrors a remote vault of Markdown documents into a local
directory, in one direction or both, and can keep doing so in the background.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings(globalFlags.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		settings = s

		// the worker opens its own log file
		if cmd == daemonRunCmd {
			return nil
		}
		logCfg := settings.LoggerConfig(false)
		if globalFlags.Verbose {
			logCfg.Level = logger.LevelDebug
		}
		if err := logger.Init(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigFile, "config", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Offline, "offline", false, "Use an empty in-memory vault instead of Google Drive")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	defer logger.Shutdown()
	return rootCmd.Execute()
}

// app bundles what a command needs to reach the sync engine
type app struct {
	settings *config.Settings
	states   *state.Store
	configs  *config.Store
	history  *state.History
	svc      *service.SyncService
}

// openStores opens the local stores only; no remote access is needed
func openStores(s *config.Settings) (*app, error) {
	states := state.NewStore(s.DataDir)
	history, err := state.OpenHistory(s.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return &app{
		settings: s,
		states:   states,
		configs:  config.NewStore(s.SyncsPath(), states),
		history:  history,
	}, nil
}

// openApp opens the stores and builds the sync service over client
func openApp(s *config.Settings, client vault.Client) (*app, error) {
	a, err := openStores(s)
	if err != nil {
		return nil, err
	}
	a.svc, err = service.NewSyncService(a.configs, a.states, a.history, client, serviceOptions(s))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}

func serviceOptions(s *config.Settings) service.Options {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = s.Transfer.MaxAttempts
	rc.BaseDelay = s.Transfer.BaseDelay
	return service.Options{
		Extension:    s.Watcher.Extension,
		Debounce:     s.Watcher.Debounce,
		PollInterval: s.Daemon.PollInterval,
		Retry:        rc,
	}
}

// newVaultClient returns the Drive client, or an empty memory vault offline
func newVaultClient(ctx context.Context, s *config.Settings) (vault.Client, error) {
	if globalFlags.Offline {
		return memory.New(), nil
	}
	client, err := gdrive.New(ctx, s.GDrive.ClientID, s.GDrive.ClientSecret, s.GDrive.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Google Drive (run 'vaultsync auth' first): %w", err)
	}
	return client, nil
}

// withApp opens everything a remote-touching command needs and closes it after
func withApp(ctx context.Context, fn func(*app) error) error {
	client, err := newVaultClient(ctx, settings)
	if err != nil {
		return err
	}
	a, err := openApp(settings, client)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withStores is withApp for commands that never reach the vault
func withStores(fn func(*app) error) error {
	a, err := openStores(settings)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
