package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Ning0612/vaultsync/internal/config"
	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/lock"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/testutil"
	"github.com/Ning0612/vaultsync/internal/vault/memory"
)

const vaultID = "vault-1"

type env struct {
	dataDir string
	remote  *memory.Client
	configs *config.Store
	states  *state.Store
	history *state.History
	svc     *SyncService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dataDir := t.TempDir()
	states := state.NewStore(dataDir)
	history, err := state.OpenHistory(dataDir)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	e := &env{
		dataDir: dataDir,
		remote:  memory.New(),
		configs: config.NewStore(filepath.Join(dataDir, "syncs.yaml"), states),
		states:  states,
		history: history,
	}
	e.svc, err = NewSyncService(e.configs, states, history, e.remote, Options{
		Debounce: 20 * time.Millisecond,
		Retry:    retry.Config{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("NewSyncService failed: %v", err)
	}
	return e
}

func (e *env) addPair(t *testing.T, mode domain.SyncMode, autoSync bool, ignore ...string) domain.SyncConfig {
	t.Helper()
	cfg, err := e.configs.Create(domain.SyncConfig{
		VaultID:    vaultID,
		LocalPath:  t.TempDir(),
		Mode:       mode,
		OnConflict: domain.ConflictNewer,
		Ignore:     ignore,
		AutoSync:   autoSync,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return cfg
}

func (e *env) reconcile(t *testing.T, cfg domain.SyncConfig) Report {
	t.Helper()
	rep, err := e.svc.Reconcile(context.Background(), cfg, "manual")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	return rep
}

func (e *env) remoteContent(path string) string {
	b, ok := e.remote.Content(vaultID, path)
	if !ok {
		return ""
	}
	return string(b)
}

func TestNewSyncService_Validation(t *testing.T) {
	dataDir := t.TempDir()
	states := state.NewStore(dataDir)
	configs := config.NewStore(filepath.Join(dataDir, "syncs.yaml"), states)

	if _, err := NewSyncService(nil, states, nil, memory.New(), Options{}); err == nil {
		t.Error("expected error for nil config store")
	}
	if _, err := NewSyncService(configs, states, nil, nil, Options{}); err == nil {
		t.Error("expected error for nil client")
	}

	svc, err := NewSyncService(configs, states, nil, memory.New(), Options{})
	if err != nil {
		t.Fatalf("NewSyncService failed: %v", err)
	}
	if svc.opts.LockDir != filepath.Join(dataDir, "locks") {
		t.Errorf("LockDir = %s", svc.opts.LockDir)
	}
	if svc.opts.Extension != ".md" {
		t.Errorf("Extension = %s", svc.opts.Extension)
	}
}

func TestScanLocal_FiltersIgnoredAndUntracked(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false, "drafts/")

	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "alpha")
	testutil.CreateTestFile(t, cfg.LocalPath, "img.png", "binary")
	testutil.CreateTestFile(t, cfg.LocalPath, "drafts/b.md", "beta")
	testutil.CreateTestFile(t, cfg.LocalPath, ".git/notes.md", "vcs")

	snap, failed, err := e.svc.ScanLocal(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ScanLocal failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("unexpected failures: %v", failed)
	}
	if len(snap) != 1 {
		t.Fatalf("snapshot = %v, want only a.md", snap)
	}
	if _, ok := snap["a.md"]; !ok {
		t.Errorf("a.md missing from snapshot")
	}
}

func TestScanRemote_ReusesUnchangedBaseline(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePull, false)

	stamp := time.Now().Add(-time.Hour)
	e.remote.Seed(vaultID, "a.md", []byte("alpha"), stamp)
	e.remote.Seed(vaultID, "notes/b.md", []byte("beta"), stamp)
	e.remote.Seed(vaultID, "c.txt", []byte("ignored"), stamp)

	rep := e.reconcile(t, cfg)
	if rep.Pull.Downloaded != 2 {
		t.Fatalf("Downloaded = %d, want 2", rep.Pull.Downloaded)
	}

	gets := e.remote.Calls(memory.OpGet)
	snap, _, err := e.svc.ScanRemote(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ScanRemote failed: %v", err)
	}
	if len(snap) != 2 {
		t.Errorf("snapshot size = %d, want 2", len(snap))
	}
	if got := e.remote.Calls(memory.OpGet); got != gets {
		t.Errorf("Get calls = %d, want %d (baseline reused)", got, gets)
	}
}

func TestScanRemote_ListFailure(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePull, false)
	e.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpList {
			return domain.ErrPermissionDenied
		}
		return nil
	})

	_, _, err := e.svc.ScanRemote(context.Background(), cfg)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestReconcile_PushMode(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "alpha")
	testutil.CreateTestFile(t, cfg.LocalPath, "dir/b.md", "beta")
	e.remote.Seed(vaultID, "remote-only.md", []byte("stays"), time.Now())

	rep := e.reconcile(t, cfg)

	if rep.Push.Uploaded != 2 || rep.Pull.Files() != 0 {
		t.Errorf("report = %+v", rep)
	}
	if e.remoteContent("dir/b.md") != "beta" {
		t.Errorf("dir/b.md not uploaded")
	}
	if testutil.FileExists(cfg.LocalPath, "remote-only.md") {
		t.Error("push mode must not download")
	}

	got, err := e.configs.Get(cfg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LastSyncAt.IsZero() {
		t.Error("LastSyncAt not recorded")
	}

	runs, err := e.history.Recent(cfg.ID, 5)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != state.RunSuccess || runs[0].Files != 2 || runs[0].Trigger != "manual" {
		t.Errorf("history = %+v", runs)
	}
}

func TestReconcile_PullMode(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePull, false, "private/")
	e.remote.Seed(vaultID, "a.md", []byte("alpha"), time.Now())
	e.remote.Seed(vaultID, "private/secret.md", []byte("no"), time.Now())
	testutil.CreateTestFile(t, cfg.LocalPath, "local-only.md", "mine")

	rep := e.reconcile(t, cfg)

	if rep.Pull.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", rep.Pull.Downloaded)
	}
	if testutil.ReadTestFile(t, cfg.LocalPath, "a.md") != "alpha" {
		t.Error("a.md not downloaded")
	}
	if testutil.FileExists(cfg.LocalPath, "private/secret.md") {
		t.Error("ignored path downloaded")
	}
	if e.remoteContent("local-only.md") != "" {
		t.Error("pull mode must not upload")
	}
}

func TestReconcile_SyncBothDirections(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "local.md", "from disk")
	testutil.CreateTestFile(t, cfg.LocalPath, "same.md", "identical")
	e.remote.Seed(vaultID, "remote.md", []byte("from vault"), time.Now())
	e.remote.Seed(vaultID, "same.md", []byte("identical"), time.Now())

	rep := e.reconcile(t, cfg)

	if rep.Push.Uploaded != 1 || rep.Pull.Downloaded != 1 || rep.Conflicts != 0 {
		t.Errorf("report = push %+v pull %+v conflicts %d", rep.Push, rep.Pull, rep.Conflicts)
	}
	if e.remoteContent("local.md") != "from disk" {
		t.Error("local.md not uploaded")
	}
	if testutil.ReadTestFile(t, cfg.LocalPath, "remote.md") != "from vault" {
		t.Error("remote.md not downloaded")
	}

	st := e.states.Load(cfg.ID)
	if _, ok := st.LastRemote("same.md"); !ok {
		t.Error("identical file not adopted into the baseline")
	}

	plan, err := e.svc.PlanReconcile(context.Background(), cfg)
	if err != nil {
		t.Fatalf("PlanReconcile failed: %v", err)
	}
	if !plan.IsEmpty() {
		t.Errorf("second plan not empty: %+v", plan)
	}
}

func TestReconcile_SyncConflictNewerRemoteWins(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "v1")
	e.reconcile(t, cfg)

	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "local edit")
	testutil.SetMTime(t, cfg.LocalPath, "a.md", time.Now().Add(-time.Minute))
	e.remote.Seed(vaultID, "a.md", []byte("remote edit"), time.Now().Add(time.Hour))

	rep := e.reconcile(t, cfg)

	if rep.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", rep.Conflicts)
	}
	if rep.Push.Files() != 0 || rep.Pull.Files() != 0 {
		t.Errorf("resolved conflict transferred again: push %+v pull %+v", rep.Push, rep.Pull)
	}
	if got := testutil.ReadTestFile(t, cfg.LocalPath, "a.md"); got != "remote edit" {
		t.Errorf("local a.md = %q, want remote edit", got)
	}
	if got := e.remoteContent("a.md"); got != "remote edit" {
		t.Errorf("remote a.md = %q", got)
	}

	backups, _ := filepath.Glob(filepath.Join(cfg.LocalPath, "a.conflicted.local.*.md"))
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want one", backups)
	}
	if data, _ := os.ReadFile(backups[0]); string(data) != "local edit" {
		t.Errorf("backup content = %q", data)
	}

	runs, _ := e.history.Recent(cfg.ID, 1)
	if len(runs) != 1 || runs[0].Conflicts != 1 {
		t.Errorf("history = %+v", runs)
	}
}

func TestReconcile_SyncConflictLocalStrategy(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	cfg.OnConflict = domain.ConflictLocal
	if err := e.configs.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "v1")
	e.reconcile(t, cfg)

	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "local edit")
	e.remote.Seed(vaultID, "a.md", []byte("remote edit"), time.Now().Add(time.Hour))

	rep := e.reconcile(t, cfg)
	if rep.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", rep.Conflicts)
	}
	if got := e.remoteContent("a.md"); got != "local edit" {
		t.Errorf("remote a.md = %q, want local edit", got)
	}
	backups, _ := filepath.Glob(filepath.Join(cfg.LocalPath, "a.conflicted.remote.*.md"))
	if len(backups) != 1 {
		t.Errorf("backups = %v, want one remote backup", backups)
	}
}

func TestReconcile_SyncDeletions(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(t *testing.T, e *env, cfg domain.SyncConfig)
		wantLocal     bool
		wantRemote    bool
		wantLocalText string
	}{
		{
			name: "local delete propagates",
			mutate: func(t *testing.T, e *env, cfg domain.SyncConfig) {
				os.Remove(filepath.Join(cfg.LocalPath, "a.md"))
			},
		},
		{
			name: "remote delete propagates",
			mutate: func(t *testing.T, e *env, cfg domain.SyncConfig) {
				e.remote.Delete(context.Background(), vaultID, "a.md")
			},
		},
		{
			name: "remote edit beats local delete",
			mutate: func(t *testing.T, e *env, cfg domain.SyncConfig) {
				os.Remove(filepath.Join(cfg.LocalPath, "a.md"))
				e.remote.Seed(vaultID, "a.md", []byte("edited remotely"), time.Now().Add(time.Hour))
			},
			wantLocal:     true,
			wantRemote:    true,
			wantLocalText: "edited remotely",
		},
		{
			name: "local edit beats remote delete",
			mutate: func(t *testing.T, e *env, cfg domain.SyncConfig) {
				testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "edited locally")
				e.remote.Delete(context.Background(), vaultID, "a.md")
			},
			wantLocal:     true,
			wantRemote:    true,
			wantLocalText: "edited locally",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			cfg := e.addPair(t, domain.SyncModeSync, false)
			testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "v1")
			e.reconcile(t, cfg)

			tt.mutate(t, e, cfg)
			e.reconcile(t, cfg)

			if got := testutil.FileExists(cfg.LocalPath, "a.md"); got != tt.wantLocal {
				t.Errorf("local exists = %v, want %v", got, tt.wantLocal)
			}
			if _, got := e.remote.Content(vaultID, "a.md"); got != tt.wantRemote {
				t.Errorf("remote exists = %v, want %v", got, tt.wantRemote)
			}
			if tt.wantLocal {
				if got := testutil.ReadTestFile(t, cfg.LocalPath, "a.md"); got != tt.wantLocalText {
					t.Errorf("local content = %q, want %q", got, tt.wantLocalText)
				}
				if got := e.remoteContent("a.md"); got != tt.wantLocalText {
					t.Errorf("remote content = %q, want %q", got, tt.wantLocalText)
				}
			} else {
				st := e.states.Load(cfg.ID)
				if _, ok := st.LastLocal("a.md"); ok {
					t.Error("deleted path still in baseline")
				}
			}
		})
	}
}

func TestReconcile_PartialFailureRecorded(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "alpha")
	testutil.CreateTestFile(t, cfg.LocalPath, "b.md", "beta")
	e.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpPut && path == "b.md" {
			return fmt.Errorf("b.md: %w", domain.ErrPermissionDenied)
		}
		return nil
	})

	rep, err := e.svc.Reconcile(context.Background(), cfg, "manual")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if rep.Push.Uploaded != 1 || len(rep.Push.Errors) != 1 || rep.Push.Errors[0].Path != "b.md" {
		t.Errorf("push = %+v", rep.Push)
	}

	runs, _ := e.history.Recent(cfg.ID, 1)
	if len(runs) != 1 || runs[0].Status != state.RunPartial || !strings.Contains(runs[0].Error, "b.md") {
		t.Errorf("history = %+v", runs)
	}
}

// createOversized makes a sparse file larger than the fingerprint size cap
func createOversized(t *testing.T, root, relPath string) {
	t.Helper()
	path := testutil.CreateTestFile(t, root, relPath, "")
	if err := os.Truncate(path, checksum.DefaultOptions().MaxSize+1); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
}

func TestReconcile_UnreadableLocalFileIsReportedPerItem(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "good.md", "fine")
	createOversized(t, cfg.LocalPath, "huge.md")

	rep, err := e.svc.Reconcile(context.Background(), cfg, "manual")
	if err == nil {
		t.Fatal("expected the unreadable file to be reported")
	}
	if rep.Push.Uploaded != 1 || e.remoteContent("good.md") != "fine" {
		t.Errorf("good.md not uploaded: push = %+v", rep.Push)
	}
	if _, ok := e.remote.Content(vaultID, "huge.md"); ok {
		t.Error("huge.md must not be uploaded")
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Path != "huge.md" || rep.Errors[0].Op != "scan" {
		t.Errorf("errors = %v", rep.Errors)
	}

	runs, _ := e.history.Recent(cfg.ID, 1)
	if len(runs) != 1 || runs[0].Status != state.RunPartial || !strings.Contains(runs[0].Error, "huge.md") {
		t.Errorf("history = %+v", runs)
	}
}

func TestReconcile_UnreadableRemoteDocumentKeepsBaseline(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	stamp := time.Now().Add(-time.Hour)
	e.remote.Seed(vaultID, "a.md", []byte("alpha"), stamp)
	e.remote.Seed(vaultID, "b.md", []byte("beta"), stamp)
	e.reconcile(t, cfg)

	e.remote.Seed(vaultID, "a.md", []byte("alpha v2"), time.Now())
	e.remote.Seed(vaultID, "b.md", []byte("beta v2"), time.Now())
	e.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpGet && path == "b.md" {
			return domain.ErrPermissionDenied
		}
		return nil
	})

	rep, err := e.svc.Reconcile(context.Background(), cfg, "manual")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := testutil.ReadTestFile(t, cfg.LocalPath, "a.md"); got != "alpha v2" {
		t.Errorf("a.md = %q, want the remote edit", got)
	}
	if got := testutil.ReadTestFile(t, cfg.LocalPath, "b.md"); got != "beta" {
		t.Errorf("b.md = %q, want it untouched", got)
	}
	if e.remoteContent("b.md") != "beta v2" {
		t.Error("remote b.md must be untouched")
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Path != "b.md" || rep.Errors[0].Op != "fetch" {
		t.Errorf("errors = %v", rep.Errors)
	}
	if _, ok := e.states.Load(cfg.ID).LastLocal("b.md"); !ok {
		t.Fatal("baseline for b.md was dropped")
	}

	e.remote.FailWith(nil)
	rep = e.reconcile(t, cfg)
	if rep.Conflicts != 0 {
		t.Errorf("Conflicts = %d, want 0", rep.Conflicts)
	}
	if got := testutil.ReadTestFile(t, cfg.LocalPath, "b.md"); got != "beta v2" {
		t.Errorf("b.md = %q after recovery", got)
	}
}

func TestReconcile_FatalFailureRecorded(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	e.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpList {
			return domain.ErrNetworkError
		}
		return nil
	})

	_, err := e.svc.Reconcile(context.Background(), cfg, TriggerStartup)
	if !errors.Is(err, domain.ErrNetworkError) {
		t.Fatalf("err = %v, want ErrNetworkError", err)
	}

	runs, _ := e.history.Recent(cfg.ID, 1)
	if len(runs) != 1 || runs[0].Status != state.RunFailed || runs[0].Trigger != TriggerStartup {
		t.Errorf("history = %+v", runs)
	}
	got, _ := e.configs.Get(cfg.ID)
	if !got.LastSyncAt.IsZero() {
		t.Error("failed run must not update LastSyncAt")
	}
}

func TestReconcile_LockedPair(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "alpha")

	held, err := lock.New(e.svc.opts.LockDir, cfg.ID)
	if err != nil {
		t.Fatalf("lock.New failed: %v", err)
	}
	if err := held.Acquire("other"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer held.Release()

	_, err = e.svc.Reconcile(context.Background(), cfg, "manual")
	if !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	if e.remoteContent("a.md") != "" {
		t.Error("locked pair was reconciled")
	}
}

func TestPlanReconcile_DoesNotTouchReplicas(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "local.md", "L")
	e.remote.Seed(vaultID, "remote.md", []byte("R"), time.Now())

	plan, err := e.svc.PlanReconcile(context.Background(), cfg)
	if err != nil {
		t.Fatalf("PlanReconcile failed: %v", err)
	}
	if len(plan.Push.Uploads) != 1 || plan.Push.Uploads[0].Path != "local.md" {
		t.Errorf("push = %+v", plan.Push)
	}
	if len(plan.Pull.Downloads) != 1 || plan.Pull.Downloads[0].Path != "remote.md" {
		t.Errorf("pull = %+v", plan.Pull)
	}
	if e.remote.Calls(memory.OpPut) != 0 || testutil.FileExists(cfg.LocalPath, "remote.md") {
		t.Error("plan modified a replica")
	}
}

func TestPlanReconcile_ReportsConflicts(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "mine")
	e.remote.Seed(vaultID, "a.md", []byte("theirs"), time.Now())

	plan, err := e.svc.PlanReconcile(context.Background(), cfg)
	if err != nil {
		t.Fatalf("PlanReconcile failed: %v", err)
	}
	if len(plan.Conflicts) != 1 || plan.Conflicts[0] != "a.md" {
		t.Errorf("conflicts = %v", plan.Conflicts)
	}
	if !plan.Push.IsEmpty() || !plan.Pull.IsEmpty() {
		t.Errorf("conflicted path also planned as a transfer: %+v", plan)
	}
}

func TestPlanReconcile_ListsSkippedPaths(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModeSync, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "good.md", "fine")
	createOversized(t, cfg.LocalPath, "huge.md")

	plan, err := e.svc.PlanReconcile(context.Background(), cfg)
	if err != nil {
		t.Fatalf("PlanReconcile failed: %v", err)
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0] != "huge.md" {
		t.Errorf("skipped = %v", plan.Skipped)
	}
	if len(plan.Push.Uploads) != 1 || plan.Push.Uploads[0].Path != "good.md" {
		t.Errorf("push = %+v", plan.Push)
	}
}

func TestRemovePair(t *testing.T) {
	e := newEnv(t)
	cfg := e.addPair(t, domain.SyncModePush, false)
	testutil.CreateTestFile(t, cfg.LocalPath, "a.md", "alpha")
	e.reconcile(t, cfg)

	if err := e.svc.RemovePair(cfg.ID); err != nil {
		t.Fatalf("RemovePair failed: %v", err)
	}
	if _, err := e.configs.Get(cfg.ID); !errors.Is(err, domain.ErrSyncConfigNotFound) {
		t.Errorf("config still present: %v", err)
	}
	if runs, _ := e.history.Recent(cfg.ID, 5); len(runs) != 0 {
		t.Errorf("history not purged: %+v", runs)
	}
	if st := e.states.Load(cfg.ID); len(st.Local) != 0 {
		t.Error("baseline not removed")
	}
}

func TestGuardSharedPerPair(t *testing.T) {
	e := newEnv(t)
	if e.svc.Guard("a") != e.svc.Guard("a") {
		t.Error("Guard must be stable per pair")
	}
	if e.svc.Guard("a") == e.svc.Guard("b") {
		t.Error("pairs must not share a guard")
	}
}
