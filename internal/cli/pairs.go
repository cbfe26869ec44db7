package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/scheduler"
)

var initCmd = &cobra.Command{
	Use:   "init <vault-id> <local-path>",
	Short: "Configure a new sync pair",
	Long: `Configure a vault <-> local directory pair.

Examples:
  vaultsync init /Notes ~/notes
  vaultsync init /Notes ~/notes --mode pull --ignore "archive/"
  vaultsync init /Notes ~/notes --auto-sync --interval 5m`,
	Args: cobra.ExactArgs(2),
	RunE: runInit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sync pairs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <sync-id>",
	Short: "Remove a sync pair together with its baseline and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var initFlags struct {
	mode       string
	onConflict string
	ignore     []string
	interval   string
	autoSync   bool
}

func init() {
	initCmd.Flags().StringVar(&initFlags.mode, "mode", string(domain.SyncModeSync), "Sync mode (pull, push, sync)")
	initCmd.Flags().StringVar(&initFlags.onConflict, "on-conflict", string(domain.ConflictNewer), "Conflict strategy (newer, local, remote, ask)")
	initCmd.Flags().StringSliceVar(&initFlags.ignore, "ignore", nil, "Extra ignore patterns (repeatable)")
	initCmd.Flags().StringVar(&initFlags.interval, "interval", "", "Remote poll interval for the daemon, e.g. 30s or 5m")
	initCmd.Flags().BoolVar(&initFlags.autoSync, "auto-sync", false, "Let the daemon keep this pair in sync")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
}

// newPairConfig builds the pair from command input and validates it
func newPairConfig(vaultID, localPath, mode, onConflict, interval string, ignore []string, autoSync bool) (domain.SyncConfig, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return domain.SyncConfig{}, fmt.Errorf("invalid local path: %w", err)
	}
	if interval != "" {
		if _, err := scheduler.ParseInterval(interval); err != nil {
			return domain.SyncConfig{}, err
		}
	}

	cfg := domain.SyncConfig{
		VaultID:      vaultID,
		LocalPath:    abs,
		Mode:         domain.SyncMode(mode),
		OnConflict:   domain.ConflictStrategy(onConflict),
		Ignore:       ignore,
		SyncInterval: interval,
		AutoSync:     autoSync,
	}
	if err := cfg.Validate(); err != nil {
		return domain.SyncConfig{}, fmt.Errorf("%w: mode %q, on-conflict %q", err, mode, onConflict)
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := newPairConfig(args[0], args[1], initFlags.mode, initFlags.onConflict,
		initFlags.interval, initFlags.ignore, initFlags.autoSync)
	if err != nil {
		return err
	}

	return withStores(func(a *app) error {
		created, err := a.configs.Create(cfg)
		if err != nil {
			return err
		}
		out := stdout(cmd)
		fmt.Fprintf(out, "Created sync pair %s\n", created.ID)
		fmt.Fprintf(out, "  %s <-> %s (%s)\n", created.VaultID, created.LocalPath, created.Mode)
		if created.AutoSync {
			fmt.Fprintln(out, "  Run 'vaultsync daemon start' to keep it in sync.")
		}
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withStores(func(a *app) error {
		printPairs(stdout(cmd), a.configs.List())
		return nil
	})
}

func printPairs(out io.Writer, pairs []domain.SyncConfig) {
	if len(pairs) == 0 {
		fmt.Fprintln(out, "No sync pairs configured.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVAULT\tLOCAL\tMODE\tAUTO\tLAST SYNC")
	for _, p := range pairs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", p.ID, p.VaultID, p.LocalPath, p.Mode, p.AutoSync, formatTime(p.LastSyncAt))
	}
	w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func runRemove(cmd *cobra.Command, args []string) error {
	return withStores(func(a *app) error {
		id := args[0]
		if err := a.configs.Delete(id); err != nil {
			return err
		}
		if err := a.history.Purge(id); err != nil {
			return err
		}
		fmt.Fprintf(stdout(cmd), "Removed sync pair %s\n", id)
		return nil
	})
}
