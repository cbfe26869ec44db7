package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/core/diff"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/localfs"
	"github.com/Ning0612/vaultsync/internal/progress"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/testutil"
	"github.com/Ning0612/vaultsync/internal/vault/memory"
)

const vaultID = "vault-1"

type fixture struct {
	cfg    domain.SyncConfig
	root   string
	local  *localfs.FS
	remote *memory.Client
	states *state.Store
	exec   *Executor
	events []progress.Event
	marked []string
	mu     sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	local, err := localfs.New(root)
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}

	f := &fixture{
		cfg:    domain.SyncConfig{ID: "pair-1", VaultID: vaultID, LocalPath: root, Mode: domain.SyncModeSync},
		root:   root,
		local:  local,
		remote: memory.New(),
		states: state.NewStore(t.TempDir()),
	}
	f.exec = NewExecutor(f.remote, local, f.states, Options{
		Retry: retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		Listener: progress.ListenerFunc(func(ev progress.Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		}),
		OnLocalWrite: func(p string) {
			f.mu.Lock()
			f.marked = append(f.marked, p)
			f.mu.Unlock()
		},
	})
	return f
}

func (f *fixture) snapshots(t *testing.T) (diff.Snapshot, diff.Snapshot) {
	t.Helper()

	local, _, err := f.local.Scan(context.Background(), nil, ".md")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	entries, err := f.remote.List(context.Background(), vaultID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	remote := diff.Snapshot{}
	for _, e := range entries {
		content, _ := f.remote.Content(vaultID, e.Path)
		remote[e.Path] = checksum.BuildRemoteFileState(e.Path, content, e.FileModifiedAt)
	}
	return local, remote
}

func TestExecutePull_DownloadsAndRecordsState(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.remote.Seed(vaultID, "a.md", []byte("alpha"), now)
	f.remote.Seed(vaultID, "dir/b.md", []byte("beta!"), now)

	local, remote := f.snapshots(t)
	d := diff.ComputePullDiff(local, remote, nil)

	res := f.exec.ExecutePull(context.Background(), f.cfg, d)
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected errors: %v", err)
	}
	if res.Downloaded != 2 {
		t.Errorf("Downloaded = %d, want 2", res.Downloaded)
	}
	if res.BytesTransferred != 10 {
		t.Errorf("BytesTransferred = %d, want 10", res.BytesTransferred)
	}
	if got := testutil.ReadTestFile(t, f.root, "dir/b.md"); got != "beta!" {
		t.Errorf("dir/b.md = %q", got)
	}

	st := f.states.Load(f.cfg.ID)
	for _, p := range []string{"a.md", "dir/b.md"} {
		l, lok := st.LastLocal(p)
		r, rok := st.LastRemote(p)
		if !lok || !rok {
			t.Fatalf("%s missing from baseline", p)
		}
		if l.Hash != r.Hash {
			t.Errorf("%s: local and remote baseline hashes differ", p)
		}
	}
	if len(f.marked) != 2 {
		t.Errorf("local writes should be marked, got %v", f.marked)
	}

	// converged: recomputing yields nothing
	local, remote = f.snapshots(t)
	if again := diff.ComputePullDiff(local, remote, st); !again.IsEmpty() {
		t.Errorf("expected empty diff after pull, got %+v", again)
	}
}

func TestExecutePush_UploadsAndDeletes(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestFile(t, f.root, "keep.md", "kept")
	testutil.CreateTestFile(t, f.root, "gone.md", "soon gone")

	local, remote := f.snapshots(t)
	res := f.exec.ExecutePush(context.Background(), f.cfg, diff.ComputePushDiff(local, remote, nil))
	if res.Uploaded != 2 {
		t.Fatalf("Uploaded = %d, want 2 (%v)", res.Uploaded, res.Err())
	}

	if err := f.local.Delete("gone.md"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	local, remote = f.snapshots(t)
	d := diff.ComputePushDiff(local, remote, f.states.Load(f.cfg.ID))
	if len(d.Deletes) != 1 || d.Deletes[0].Path != "gone.md" {
		t.Fatalf("expected one delete for gone.md, got %+v", d)
	}

	res = f.exec.ExecutePush(context.Background(), f.cfg, d)
	if res.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Deleted)
	}
	if _, ok := f.remote.Content(vaultID, "gone.md"); ok {
		t.Error("gone.md should be deleted remotely")
	}
	st := f.states.Load(f.cfg.ID)
	if _, ok := st.LastLocal("gone.md"); ok {
		t.Error("deleted path should be forgotten")
	}
	if _, ok := st.LastRemote("keep.md"); !ok {
		t.Error("keep.md should stay in the baseline")
	}
}

func TestExecutePush_QuotaAbortsQueue(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		testutil.CreateTestFile(t, f.root, fmt.Sprintf("n%d.md", i), fmt.Sprintf("note %d", i))
	}
	f.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpPut && call == 2 {
			return fmt.Errorf("upload %s: %w", path, domain.ErrQuotaExceeded)
		}
		return nil
	})

	local, remote := f.snapshots(t)
	d := diff.ComputePushDiff(local, remote, nil)
	if len(d.Uploads) != 5 {
		t.Fatalf("expected 5 uploads, got %d", len(d.Uploads))
	}

	res := f.exec.ExecutePush(context.Background(), f.cfg, d)
	if res.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", res.Uploaded)
	}
	if calls := f.remote.Calls(memory.OpPut); calls != 2 {
		t.Errorf("Put calls = %d, want 2 (quota must not be retried or continued)", calls)
	}
	if res.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", res.Skipped)
	}
	if len(res.Errors) != 1 || res.Errors[0].Path != "n2.md" {
		t.Fatalf("expected one error for n2.md, got %+v", res.Errors)
	}
	if !errors.Is(res.Err(), domain.ErrQuotaExceeded) {
		t.Errorf("Err() should wrap quota error, got %v", res.Err())
	}
}

func TestExecutePush_RetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestFile(t, f.root, "flaky.md", "content")
	f.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpPut && call < 3 {
			return domain.ErrNetworkError
		}
		return nil
	})

	local, remote := f.snapshots(t)
	res := f.exec.ExecutePush(context.Background(), f.cfg, diff.ComputePushDiff(local, remote, nil))
	if res.Uploaded != 1 || len(res.Errors) != 0 {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if calls := f.remote.Calls(memory.OpPut); calls != 3 {
		t.Errorf("Put calls = %d, want 3", calls)
	}
}

func TestExecutePush_PermissionNotRetried(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestFile(t, f.root, "a.md", "a")
	testutil.CreateTestFile(t, f.root, "b.md", "b")
	f.remote.FailWith(func(op memory.Op, path string, call int) error {
		if op == memory.OpPut && path == "a.md" {
			return domain.ErrPermissionDenied
		}
		return nil
	})

	local, remote := f.snapshots(t)
	res := f.exec.ExecutePush(context.Background(), f.cfg, diff.ComputePushDiff(local, remote, nil))
	if res.Uploaded != 1 {
		t.Errorf("permission errors should not stop the queue, Uploaded = %d", res.Uploaded)
	}
	if calls := f.remote.Calls(memory.OpPut); calls != 2 {
		t.Errorf("Put calls = %d, want 2", calls)
	}
	if st := f.states.Load(f.cfg.ID); func() bool { _, ok := st.LastRemote("a.md"); return ok }() {
		t.Error("failed item must not enter the baseline")
	}
}

func TestExecutePull_DeleteOfMissingFileSucceeds(t *testing.T) {
	f := newFixture(t)
	st := domain.NewSyncState(f.cfg.ID)
	st.SetBoth(domain.FileState{Path: "ghost.md", Hash: "x"})
	if err := f.states.Save(st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	d := domain.SyncDiff{Deletes: []domain.DiffEntry{{Path: "ghost.md", Action: domain.ActionDelete, Direction: domain.DirDownload}}}
	res := f.exec.ExecutePull(context.Background(), f.cfg, d)
	if res.Deleted != 1 || len(res.Errors) != 0 {
		t.Fatalf("expected idempotent delete, got %+v", res)
	}
	if _, ok := f.states.Load(f.cfg.ID).LastLocal("ghost.md"); ok {
		t.Error("ghost.md should be forgotten")
	}
}

func TestExecute_ProgressEvents(t *testing.T) {
	f := newFixture(t)
	f.remote.Seed(vaultID, "one.md", []byte("1"), time.Now())
	f.remote.Seed(vaultID, "two.md", []byte("22"), time.Now())

	local, remote := f.snapshots(t)
	f.exec.ExecutePull(context.Background(), f.cfg, diff.ComputePullDiff(local, remote, nil))

	if len(f.events) != 3 {
		t.Fatalf("expected 2 item events and 1 done event, got %d", len(f.events))
	}
	if f.events[0].Current != 1 || f.events[0].Total != 2 || f.events[0].Path != "one.md" {
		t.Errorf("first event = %+v", f.events[0])
	}
	last := f.events[2]
	if last.Phase != progress.PhaseDone || last.BytesTransferred != 3 || last.BytesTotal != 3 {
		t.Errorf("done event = %+v", last)
	}
}

func TestExecute_PanickingListenerDoesNotStopRun(t *testing.T) {
	f := newFixture(t)
	f.exec.opts.Listener = progress.ListenerFunc(func(progress.Event) { panic("boom") })
	testutil.CreateTestFile(t, f.root, "a.md", "a")

	local, remote := f.snapshots(t)
	res := f.exec.ExecutePush(context.Background(), f.cfg, diff.ComputePushDiff(local, remote, nil))
	if res.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", res.Uploaded)
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestFile(t, f.root, "a.md", "a")
	local, remote := f.snapshots(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.exec.ExecutePush(ctx, f.cfg, diff.ComputePushDiff(local, remote, nil))
	if res.Uploaded != 0 || res.Skipped != 1 {
		t.Errorf("expected the upload to be skipped, got %+v", res)
	}
	if f.remote.Calls(memory.OpPut) != 0 {
		t.Error("no Put should be attempted after cancellation")
	}
}

func TestResult_Merge(t *testing.T) {
	a := Result{Uploaded: 1, BytesTransferred: 10}
	b := Result{Downloaded: 2, Deleted: 1, BytesTransferred: 5, Errors: []*PathError{{Path: "x", Op: "upload", Err: domain.ErrTimeout}}}
	a.Merge(b)
	if a.Files() != 4 || a.BytesTransferred != 15 || len(a.Errors) != 1 {
		t.Errorf("Merge = %+v", a)
	}
	if !errors.Is(a.Err(), domain.ErrTimeout) {
		t.Error("merged errors should unwrap")
	}
}
