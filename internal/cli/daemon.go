package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/vaultsync/internal/config"
	"github.com/Ning0612/vaultsync/internal/daemon"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/service"
	"github.com/Ning0612/vaultsync/internal/state"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background sync worker",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker in the background",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background worker",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the worker is running and the latest runs per pair",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the worker in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonWorker,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

// workerArgs is the command line the supervisor launches
func workerArgs(configFile string) ([]string, error) {
	args := []string{"daemon", "run"}
	if configFile == "" {
		return args, nil
	}
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}
	return append(args, "--config", abs), nil
}

func newSupervisor(s *config.Settings) (*daemon.Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	args, err := workerArgs(globalFlags.ConfigFile)
	if err != nil {
		return nil, err
	}
	return daemon.NewSupervisor(exe, args, s.PIDPath(), s.DaemonLogPath()), nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor(settings)
	if err != nil {
		return err
	}
	pid, err := sup.Start()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "Daemon started (pid %d), logging to %s\n", pid, settings.DaemonLogPath())
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor(settings)
	if err != nil {
		return err
	}
	if err := sup.Stop(); err != nil {
		if errors.Is(err, domain.ErrDaemonNotRunning) {
			fmt.Fprintln(stdout(cmd), "Daemon is not running.")
			return nil
		}
		return err
	}
	fmt.Fprintln(stdout(cmd), "Daemon stopped.")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	sup, err := newSupervisor(settings)
	if err != nil {
		return err
	}
	out := stdout(cmd)
	printDaemonStatus(out, sup.Status())

	return withStores(func(a *app) error {
		for _, cfg := range a.configs.ListAutoSync() {
			last, err := a.history.Recent(cfg.ID, 1)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s  %s <-> %s  ", cfg.ID, cfg.VaultID, cfg.LocalPath)
			if len(last) == 0 {
				fmt.Fprintln(out, "no runs yet")
				continue
			}
			fmt.Fprintln(out, describeRun(last[0]))
		}
		return nil
	})
}

func printDaemonStatus(out io.Writer, st daemon.Status) {
	if !st.Running {
		fmt.Fprintln(out, "Daemon is not running.")
		return
	}
	fmt.Fprintf(out, "Daemon is running (pid %d", st.PID)
	if st.Uptime > 0 {
		fmt.Fprintf(out, ", up %s", st.Uptime.Round(time.Second))
	}
	fmt.Fprintln(out, ")")
}

func describeRun(r state.RunRecord) string {
	s := fmt.Sprintf("%s %s at %s: %d file(s), %d conflict(s)",
		r.Trigger, r.Status, formatTime(r.EndTime), r.Files, r.Conflicts)
	if r.Error != "" {
		s += ": " + r.Error
	}
	return s
}

// runDaemonWorker is the detached process body. It logs to the daemon log
// file and returns when interrupted.
func runDaemonWorker(cmd *cobra.Command, args []string) error {
	if err := logger.Init(settings.LoggerConfig(true)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.With("component", "cli")

	ctx, cancel := signalContext()
	defer cancel()

	err := withApp(ctx, func(a *app) error {
		return service.NewWorker(a.svc, settings.PIDPath()).Run(ctx)
	})
	if err != nil {
		log.Error("Daemon worker exited with error", "error", err)
		releasePID(daemon.NewPIDFile(settings.PIDPath()), log)
		return err
	}
	return nil
}

// releasePID drops the record the supervisor wrote for this process when the
// worker exits before it could take ownership of it
func releasePID(pf *daemon.PIDFile, log logger.Logger) {
	pid, err := pf.Read()
	if err != nil || pid != os.Getpid() {
		return
	}
	if err := pf.Remove(); err != nil {
		log.Warn("Failed to remove PID file", "error", err)
	}
}
