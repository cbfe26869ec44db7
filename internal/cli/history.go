package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/state"
)

var historyCmd = &cobra.Command{
	Use:   "history [sync-id]",
	Short: "Show recent reconciliation runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withStores(func(a *app) error {
		var (
			runs []state.RunRecord
			err  error
		)
		if len(args) == 1 {
			if _, err := a.configs.Get(args[0]); err != nil {
				return err
			}
			runs, err = a.history.Recent(args[0], historyLimit)
		} else {
			runs, err = a.history.All(historyLimit)
		}
		if err != nil {
			return err
		}
		printRuns(stdout(cmd), runs)
		return nil
	})
}

func printRuns(out io.Writer, runs []state.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSYNC ID\tTRIGGER\tSTATUS\tFILES\tCONFLICTS\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			formatTime(r.StartTime), r.SyncID, r.Trigger, r.Status, r.Files, r.Conflicts,
			r.Duration().Round(time.Millisecond), r.Error)
	}
	w.Flush()
}
