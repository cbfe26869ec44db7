package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/vaultsync/internal/daemon"
	"github.com/Ning0612/vaultsync/internal/domain"
)

func TestPIDFile_WriteAndRead(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "nested", "daemon.pid")
	pidFile := daemon.NewPIDFile(pidPath)

	if err := pidFile.Write(); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	defer pidFile.Remove()

	pid, err := pidFile.Read()
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}

	running, err := pidFile.IsRunning()
	if err != nil {
		t.Fatalf("Failed to check if running: %v", err)
	}
	if !running {
		t.Error("Expected process to be running")
	}

	startedAt, err := pidFile.StartedAt()
	if err != nil {
		t.Fatalf("StartedAt failed: %v", err)
	}
	if time.Since(startedAt) > time.Minute {
		t.Errorf("StartedAt = %v, expected recent", startedAt)
	}
}

func TestPIDFile_WriteOwnRecordAgain(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))

	if err := pidFile.WritePID(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	// the worker rewrites the record its supervisor created
	if err := pidFile.Write(); err != nil {
		t.Errorf("rewriting own PID should succeed, got %v", err)
	}
}

func TestPIDFile_WriteLiveOther(t *testing.T) {
	pidFile := daemon.NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))

	// the parent of the test binary is alive for the duration of the test
	if err := pidFile.WritePID(os.Getppid()); err != nil {
		t.Fatal(err)
	}
	if err := pidFile.Write(); !errors.Is(err, domain.ErrDaemonRunning) {
		t.Errorf("Write() = %v, want ErrDaemonRunning", err)
	}
}

func TestPIDFile_StalePIDCleanup(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "daemon.pid")
	pidFile := daemon.NewPIDFile(pidPath)

	if err := os.WriteFile(pidPath, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("Failed to write fake PID: %v", err)
	}

	if err := pidFile.Write(); err != nil {
		t.Fatalf("Failed to write after stale PID: %v", err)
	}
	defer pidFile.Remove()

	pid, err := pidFile.Read()
	if err != nil {
		t.Fatalf("Failed to read PID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected current PID %d, got %d", os.Getpid(), pid)
	}
}

func TestPIDFile_ReadErrors(t *testing.T) {
	dir := t.TempDir()

	missing := daemon.NewPIDFile(filepath.Join(dir, "missing.pid"))
	if _, err := missing.Read(); !errors.Is(err, domain.ErrDaemonNotRunning) {
		t.Errorf("missing file: got %v, want ErrDaemonNotRunning", err)
	}

	garbagePath := filepath.Join(dir, "garbage.pid")
	os.WriteFile(garbagePath, []byte("not-a-pid"), 0644)
	if _, err := daemon.NewPIDFile(garbagePath).Read(); err == nil {
		t.Error("expected error for invalid content")
	}
}

func TestPIDFile_Remove(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "daemon.pid")
	pidFile := daemon.NewPIDFile(pidPath)

	if err := pidFile.Write(); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}
	if err := pidFile.Remove(); err != nil {
		t.Fatalf("Failed to remove PID file: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file still exists after removal")
	}
	if err := pidFile.Remove(); err != nil {
		t.Errorf("Expected no error when removing non-existent PID file, got: %v", err)
	}
}
