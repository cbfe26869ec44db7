package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
)

// Status describes the recorded daemon process
type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
}

// Supervisor manages the detached worker through its PID record
type Supervisor struct {
	// Executable and Args form the worker command, e.g. <exe> daemon run
	Executable string
	Args       []string
	Env        []string

	PIDPath    string
	LogPath    string
	MaxLogSize int64
	MaxLogAge  time.Duration

	now func() time.Time
}

// NewSupervisor creates a supervisor that launches exe with args
func NewSupervisor(exe string, args []string, pidPath, logPath string) *Supervisor {
	return &Supervisor{
		Executable: exe,
		Args:       args,
		PIDPath:    pidPath,
		LogPath:    logPath,
		MaxLogSize: DefaultMaxLogSize,
		MaxLogAge:  DefaultMaxLogAge,
		now:        time.Now,
	}
}

func (s *Supervisor) pidFile() *PIDFile {
	return NewPIDFile(s.PIDPath)
}

// Start launches the worker unless a live one is recorded, and returns its pid
func (s *Supervisor) Start() (int, error) {
	log := logger.With("component", "supervisor")
	pf := s.pidFile()

	if pid, err := pf.Read(); err == nil {
		if isProcessRunning(pid) {
			return pid, fmt.Errorf("%w (pid %d)", domain.ErrDaemonRunning, pid)
		}
		log.Info("Removing stale PID file", "pid", pid)
		pf.Remove()
	}

	if rotated, err := RotateLog(s.LogPath, s.MaxLogSize, s.MaxLogAge); err != nil {
		log.Warn("Log rotation failed", "path", s.LogPath, "error", err)
	} else if rotated {
		log.Info("Rotated daemon log", "path", s.LogPath)
	}

	if err := os.MkdirAll(filepath.Dir(s.LogPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()

	pid, err := spawnDetached(s.Executable, s.Args, s.Env, logFile)
	if err != nil {
		return 0, err
	}

	if err := pf.WritePID(pid); err != nil {
		killProcess(pid)
		return 0, err
	}

	log.Info("Daemon started", "pid", pid, "log", s.LogPath)
	return pid, nil
}

// Stop signals the recorded process if it is alive and always clears the PID
// record. It returns domain.ErrDaemonNotRunning when nothing was alive.
func (s *Supervisor) Stop() error {
	pf := s.pidFile()
	defer pf.Remove()

	pid, err := pf.Read()
	if err != nil {
		if errors.Is(err, domain.ErrDaemonNotRunning) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrDaemonNotRunning, err)
	}
	if !isProcessRunning(pid) {
		return domain.ErrDaemonNotRunning
	}

	if err := killProcess(pid); err != nil {
		return err
	}
	logger.With("component", "supervisor").Info("Daemon stopped", "pid", pid)
	return nil
}

// Status reports liveness without signalling the process. A stale or
// unreadable PID record is removed.
func (s *Supervisor) Status() Status {
	pf := s.pidFile()

	pid, err := pf.Read()
	if err != nil {
		if !errors.Is(err, domain.ErrDaemonNotRunning) {
			pf.Remove()
		}
		return Status{}
	}

	if !isProcessRunning(pid) {
		pf.Remove()
		return Status{PID: pid}
	}

	st := Status{Running: true, PID: pid}
	if startedAt, err := pf.StartedAt(); err == nil {
		st.StartedAt = startedAt
		st.Uptime = s.now().Sub(startedAt)
	}
	return st
}

// spawnDetached starts exe in a new session with stdio bound to out, and
// returns without waiting for it
func spawnDetached(exe string, args, env []string, out *os.File) (int, error) {
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = detachAttrs()
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to detach daemon: %w", err)
	}
	return pid, nil
}
