package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/progress"
	"github.com/Ning0612/vaultsync/internal/service"
)

// TriggerManual names runs started from the command line
const TriggerManual = "manual"

var syncCmd = &cobra.Command{
	Use:   "sync <sync-id>",
	Short: "Reconcile a pair in its configured mode",
	Long: `Reconcile a pair in its configured mode: pull, push, or both directions.

Use --dry-run to print the planned changes without applying them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, args[0], "")
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <sync-id>",
	Short: "Make the local directory match the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, args[0], domain.SyncModePull)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <sync-id>",
	Short: "Make the vault match the local directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, args[0], domain.SyncModePush)
	},
}

var dryRun bool

func init() {
	for _, c := range []*cobra.Command{syncCmd, pullCmd, pushCmd} {
		c.Flags().BoolVar(&dryRun, "dry-run", false, "Show planned changes without applying them")
		rootCmd.AddCommand(c)
	}
}

// signalContext is cancelled on the first interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runReconcile runs one pair; a non-empty mode overrides the configured one
func runReconcile(cmd *cobra.Command, syncID string, mode domain.SyncMode) error {
	ctx, cancel := signalContext()
	defer cancel()

	return withApp(ctx, func(a *app) error {
		cfg, err := a.configs.Get(syncID)
		if err != nil {
			return err
		}
		if mode != "" {
			cfg.Mode = mode
		}
		out := stdout(cmd)

		if dryRun {
			plan, err := a.svc.PlanReconcile(ctx, cfg)
			if err != nil {
				return err
			}
			printPlan(out, cfg, plan)
			return nil
		}

		if showProgress(out) {
			a.svc.SetProgressListener(progress.ListenerFunc(func(ev progress.Event) {
				fmt.Fprintln(out, progress.FormatEvent(ev))
			}))
		}
		rep, err := a.svc.Reconcile(ctx, cfg, TriggerManual)
		if errors.Is(err, domain.ErrSyncInProgress) {
			return err
		}
		printReport(out, rep)
		return err
	})
}

// showProgress reports whether per-file progress lines belong on out
func showProgress(out io.Writer) bool {
	if globalFlags.Quiet {
		return false
	}
	if f, ok := out.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return true
}

func printPlan(out io.Writer, cfg domain.SyncConfig, plan service.Plan) {
	fmt.Fprintf(out, "Plan for %s (%s <-> %s, %s)\n", cfg.ID, cfg.VaultID, cfg.LocalPath, cfg.Mode)
	for _, p := range plan.Skipped {
		fmt.Fprintf(out, "  skipped   %s (unreadable)\n", p)
	}
	if plan.IsEmpty() {
		fmt.Fprintln(out, "  Everything is up to date.")
		return
	}
	for _, p := range plan.Conflicts {
		fmt.Fprintf(out, "  conflict  %s\n", p)
	}
	printDiff(out, plan.Push)
	printDiff(out, plan.Pull)
}

func printDiff(out io.Writer, d domain.SyncDiff) {
	for _, group := range [][]domain.DiffEntry{d.Uploads, d.Downloads, d.Deletes} {
		for _, e := range group {
			fmt.Fprintf(out, "  %-8s  %-6s  %s", e.Direction, e.Action, e.Path)
			if e.Reason != "" {
				fmt.Fprintf(out, "  (%s)", e.Reason)
			}
			fmt.Fprintln(out)
		}
	}
	if d.TotalBytes > 0 {
		fmt.Fprintf(out, "  %d change(s), %s to transfer\n", d.Len(), progress.FormatBytes(d.TotalBytes))
	}
}

func printReport(out io.Writer, rep service.Report) {
	fmt.Fprintf(out, "Synced %s: %d file(s), %s, %d conflict(s) in %s\n",
		rep.SyncID, rep.Files(), progress.FormatBytes(rep.Bytes()), rep.Conflicts,
		rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	for _, pe := range rep.Push.Errors {
		fmt.Fprintf(out, "  failed: %v\n", pe)
	}
	for _, pe := range rep.Pull.Errors {
		fmt.Fprintf(out, "  failed: %v\n", pe)
	}
	for _, pe := range rep.Errors {
		fmt.Fprintf(out, "  failed: %v\n", pe)
	}
}
