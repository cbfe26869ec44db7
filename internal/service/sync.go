package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/vaultsync/internal/config"
	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/core/conflict"
	"github.com/Ning0612/vaultsync/internal/core/diff"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/ignore"
	"github.com/Ning0612/vaultsync/internal/localfs"
	"github.com/Ning0612/vaultsync/internal/lock"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/poller"
	"github.com/Ning0612/vaultsync/internal/progress"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/selfwrite"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/transfer"
	"github.com/Ning0612/vaultsync/internal/vault"
	"github.com/Ning0612/vaultsync/internal/watcher"
)

// remoteScanConcurrency bounds parallel Gets while fingerprinting a vault
const remoteScanConcurrency = 8

// Options configures a SyncService. Zero values select defaults.
type Options struct {
	LockDir      string
	Extension    string
	Debounce     time.Duration
	PollInterval time.Duration // used when a pair has no syncInterval
	Retry        retry.Config
	Listener     progress.Listener
}

// SyncService orchestrates reconciliation of configured sync pairs
type SyncService struct {
	configs *config.Store
	states  *state.Store
	history *state.History
	client  vault.Client
	opts    Options
	log     logger.Logger
	now     func() time.Time

	mu     sync.Mutex
	guards map[string]*selfwrite.Guard
}

// NewSyncService creates a sync service. history may be nil.
func NewSyncService(configs *config.Store, states *state.Store, history *state.History, client vault.Client, opts Options) (*SyncService, error) {
	if configs == nil || states == nil {
		return nil, fmt.Errorf("config and state stores are required")
	}
	if client == nil {
		return nil, fmt.Errorf("vault client cannot be nil")
	}
	if opts.LockDir == "" {
		opts.LockDir = filepath.Join(filepath.Dir(states.Dir()), "locks")
	}
	if opts.Extension == "" {
		opts.Extension = watcher.DefaultExtension
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	return &SyncService{
		configs: configs,
		states:  states,
		history: history,
		client:  client,
		opts:    opts,
		log:     logger.With("component", "sync"),
		now:     time.Now,
		guards:  make(map[string]*selfwrite.Guard),
	}, nil
}

// Configs returns the sync pair store
func (s *SyncService) Configs() *config.Store {
	return s.configs
}

// States returns the baseline store
func (s *SyncService) States() *state.Store {
	return s.states
}

// History returns the execution history, or nil
func (s *SyncService) History() *state.History {
	return s.history
}

// SetProgressListener sets the observer for ExecutePull and ExecutePush
func (s *SyncService) SetProgressListener(l progress.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Listener = l
}

func (s *SyncService) listener() progress.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Listener
}

// Guard returns the self-write guard shared by everything writing into the
// pair's local directory inside this process.
func (s *SyncService) Guard(syncID string) *selfwrite.Guard {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guards[syncID]
	if !ok {
		g = selfwrite.New(selfwrite.DefaultTTL)
		s.guards[syncID] = g
	}
	return g
}

// RemovePair deletes a pair, its baseline and its history
func (s *SyncService) RemovePair(id string) error {
	if err := s.configs.Delete(id); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Purge(id); err != nil {
			s.log.Warn("Failed to purge history", "sync_id", id, "error", err)
		}
	}
	s.mu.Lock()
	delete(s.guards, id)
	s.mu.Unlock()
	return nil
}

func (s *SyncService) matcher(cfg domain.SyncConfig) *ignore.Matcher {
	return ignore.New(cfg.Ignore)
}

// ScanLocal fingerprints every tracked file of the pair's local directory.
// Files that cannot be read are left out of the snapshot and returned as
// per-path errors.
func (s *SyncService) ScanLocal(ctx context.Context, cfg domain.SyncConfig) (diff.Snapshot, []*transfer.PathError, error) {
	local, err := localfs.New(cfg.LocalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local directory: %w", err)
	}
	snap, failed, err := local.Scan(ctx, s.matcher(cfg), s.opts.Extension)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan local directory: %w", err)
	}

	var errs []*transfer.PathError
	for path, err := range failed {
		s.log.Warn("Skipping unreadable local file", "sync_id", cfg.ID, "path", path, "error", err)
		errs = append(errs, &transfer.PathError{Path: path, Op: "scan", Err: err})
	}
	sortPathErrors(errs)
	return snap, errs, nil
}

// ScanRemote fingerprints every tracked document of the pair's vault.
// Documents whose modification time matches the baseline are not fetched.
// A document that cannot be fetched is left out of the snapshot and returned
// as a per-path error; only a failed listing or cancellation is fatal.
func (s *SyncService) ScanRemote(ctx context.Context, cfg domain.SyncConfig) (diff.Snapshot, []*transfer.PathError, error) {
	entries, err := retry.DoWithResult(ctx, s.opts.Retry, func() ([]vault.Entry, error) {
		return s.client.List(ctx, cfg.VaultID)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list vault: %w", err)
	}

	matcher := s.matcher(cfg)
	baseline := s.states.Load(cfg.ID)
	snap := make(diff.Snapshot, len(entries))

	var (
		mu   sync.Mutex
		errs []*transfer.PathError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteScanConcurrency)

	for _, entry := range entries {
		entry := entry
		if matcher.Match(entry.Path) || !localfs.IsTracked(entry.Path, s.opts.Extension) {
			continue
		}
		if last, ok := baseline.LastRemote(entry.Path); ok && last.MTime.Equal(entry.FileModifiedAt) {
			snap[entry.Path] = last
			continue
		}

		g.Go(func() error {
			doc, err := retry.DoWithResult(gctx, s.opts.Retry, func() (*vault.Document, error) {
				return s.client.Get(gctx, cfg.VaultID, entry.Path)
			})
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrNotFound):
				return nil
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				s.log.Warn("Skipping unreadable remote document", "sync_id", cfg.ID, "path", entry.Path, "error", err)
				mu.Lock()
				errs = append(errs, &transfer.PathError{Path: entry.Path, Op: "fetch", Err: err})
				mu.Unlock()
				return nil
			}
			fs := checksum.BuildRemoteFileState(entry.Path, doc.Content, doc.UpdatedAt)
			mu.Lock()
			snap[entry.Path] = fs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sortPathErrors(errs)
	return snap, errs, nil
}

func sortPathErrors(errs []*transfer.PathError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
}

// ComputePullDiff compares both snapshots against the stored baseline
func (s *SyncService) ComputePullDiff(cfg domain.SyncConfig, local, remote diff.Snapshot) domain.SyncDiff {
	return diff.ComputePullDiff(local, remote, s.states.Load(cfg.ID))
}

// ComputePushDiff compares both snapshots against the stored baseline
func (s *SyncService) ComputePushDiff(cfg domain.SyncConfig, local, remote diff.Snapshot) domain.SyncDiff {
	return diff.ComputePushDiff(local, remote, s.states.Load(cfg.ID))
}

func (s *SyncService) executor(cfg domain.SyncConfig) (*transfer.Executor, error) {
	local, err := localfs.New(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local directory: %w", err)
	}
	return transfer.NewExecutor(s.client, local, s.states, transfer.Options{
		Retry:        s.opts.Retry,
		Listener:     s.listener(),
		OnLocalWrite: s.Guard(cfg.ID).Mark,
	}), nil
}

// ExecutePull applies a pull diff
func (s *SyncService) ExecutePull(ctx context.Context, cfg domain.SyncConfig, d domain.SyncDiff) (transfer.Result, error) {
	ex, err := s.executor(cfg)
	if err != nil {
		return transfer.Result{}, err
	}
	return ex.ExecutePull(ctx, cfg, d), nil
}

// ExecutePush applies a push diff
func (s *SyncService) ExecutePush(ctx context.Context, cfg domain.SyncConfig, d domain.SyncDiff) (transfer.Result, error) {
	ex, err := s.executor(cfg)
	if err != nil {
		return transfer.Result{}, err
	}
	return ex.ExecutePush(ctx, cfg, d), nil
}

// NewWatcher creates the local watcher for a pair, sharing its self-write guard
func (s *SyncService) NewWatcher(cfg domain.SyncConfig) (*watcher.Watcher, error) {
	local, err := localfs.New(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local directory: %w", err)
	}
	return watcher.New(cfg, s.client, local, s.states, watcher.Options{
		Debounce:  s.opts.Debounce,
		Extension: s.opts.Extension,
		Guard:     s.Guard(cfg.ID),
		Retry:     s.opts.Retry,
	}), nil
}

// NewPoller creates the remote poller for a pair, sharing its self-write guard
func (s *SyncService) NewPoller(cfg domain.SyncConfig) (*poller.Poller, error) {
	local, err := localfs.New(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local directory: %w", err)
	}
	opts := poller.Options{
		Extension: s.opts.Extension,
		Guard:     s.Guard(cfg.ID),
		Retry:     s.opts.Retry,
	}
	if cfg.SyncInterval == "" {
		opts.Interval = s.opts.PollInterval
	}
	return poller.New(cfg, s.client, local, s.states, opts)
}

// Plan is what a reconciliation would do
type Plan struct {
	Push      domain.SyncDiff
	Pull      domain.SyncDiff
	Conflicts []string
	Skipped   []string // unreadable on either side, left alone
}

// IsEmpty reports whether the plan carries no work
func (p Plan) IsEmpty() bool {
	return p.Push.IsEmpty() && p.Pull.IsEmpty() && len(p.Conflicts) == 0
}

// PlanReconcile computes the diffs of a reconciliation without touching
// either replica. Push is applied before pull; the pull diff assumes every
// push entry succeeds.
func (s *SyncService) PlanReconcile(ctx context.Context, cfg domain.SyncConfig) (Plan, error) {
	local, remote, skipped, err := s.scan(ctx, cfg)
	if err != nil {
		return Plan{}, err
	}
	st := s.states.Load(cfg.ID)

	var plan Plan
	for _, pe := range skipped {
		plan.Skipped = append(plan.Skipped, pe.Path)
	}
	switch cfg.Mode {
	case domain.SyncModePull:
		plan.Pull = diff.ComputePullDiff(local, remote, st)
	case domain.SyncModePush:
		plan.Push = diff.ComputePushDiff(local, remote, st)
	default:
		for _, path := range sharedPaths(local, remote) {
			if local[path].Hash != remote[path].Hash && conflict.DetectInState(local[path], remote[path], st) {
				plan.Conflicts = append(plan.Conflicts, path)
				// resolved conflicts leave both sides at the winner
				delete(local, path)
				delete(remote, path)
			}
		}
		plan.Push = bidirectionalPush(local, remote, st)
		virtual := cloneState(st)
		for _, e := range plan.Push.Uploads {
			virtual.SetBoth(local[e.Path])
		}
		for _, e := range plan.Push.Deletes {
			virtual.Forget(e.Path)
		}
		settle(local, remote, plan.Push, virtual)
		plan.Pull = diff.ComputePullDiff(local, remote, virtual)
	}
	return plan, nil
}

// Report summarizes one reconciliation
type Report struct {
	SyncID    string
	Trigger   string
	Push      transfer.Result
	Pull      transfer.Result
	Conflicts int
	Errors    []*transfer.PathError // scan and conflict handling failures
	Started   time.Time
	Finished  time.Time
}

// Files returns the number of completed transfers and deletions
func (r Report) Files() int {
	return r.Push.Files() + r.Pull.Files()
}

// Bytes returns the bytes moved in both directions
func (r Report) Bytes() int64 {
	return r.Push.BytesTransferred + r.Pull.BytesTransferred
}

// Err joins every per-path failure, or nil
func (r Report) Err() error {
	errs := []error{r.Push.Err(), r.Pull.Err()}
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Reconcile brings one pair in line: push then pull for sync mode, a single
// direction otherwise. The pair's lock is held for the duration and the run
// is recorded in the execution history. A nil error means every item
// succeeded; Report is filled either way.
func (s *SyncService) Reconcile(ctx context.Context, cfg domain.SyncConfig, trigger string) (Report, error) {
	rep := Report{SyncID: cfg.ID, Trigger: trigger, Started: s.now()}
	log := s.log.With("sync_id", cfg.ID, "trigger", trigger)

	lk, err := lock.New(s.opts.LockDir, cfg.ID)
	if err != nil {
		return rep, err
	}

	var fatal error
	err = lk.Do("reconcile:"+trigger, func() error {
		fatal = s.reconcile(ctx, cfg, &rep)
		return fatal
	})
	rep.Finished = s.now()
	if err != nil && fatal == nil {
		// the lock was not acquired
		log.Warn("Reconciliation skipped", "error", err)
		return rep, err
	}

	s.record(rep, fatal)
	if fatal != nil {
		log.Error("Reconciliation failed", "error", fatal)
		return rep, fatal
	}

	if err := s.configs.TouchLastSync(cfg.ID, rep.Finished); err != nil && !errors.Is(err, domain.ErrSyncConfigNotFound) {
		log.Warn("Failed to record last sync time", "error", err)
	}
	log.Info("Reconciliation finished",
		"files", rep.Files(), "bytes", rep.Bytes(), "conflicts", rep.Conflicts, "duration", rep.Finished.Sub(rep.Started))
	return rep, rep.Err()
}

func (s *SyncService) reconcile(ctx context.Context, cfg domain.SyncConfig, rep *Report) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	local, remote, skipped, err := s.scan(ctx, cfg)
	if err != nil {
		return err
	}
	rep.Errors = append(rep.Errors, skipped...)

	switch cfg.Mode {
	case domain.SyncModePull:
		rep.Pull, err = s.ExecutePull(ctx, cfg, s.ComputePullDiff(cfg, local, remote))
		return err
	case domain.SyncModePush:
		rep.Push, err = s.ExecutePush(ctx, cfg, s.ComputePushDiff(cfg, local, remote))
		return err
	}

	if err := s.resolveConflicts(ctx, cfg, local, remote, skippedPaths(skipped), rep); err != nil {
		return err
	}

	push := bidirectionalPush(local, remote, s.states.Load(cfg.ID))
	if rep.Push, err = s.ExecutePush(ctx, cfg, push); err != nil {
		return err
	}
	settle(local, remote, push, s.states.Load(cfg.ID))

	rep.Pull, err = s.ExecutePull(ctx, cfg, s.ComputePullDiff(cfg, local, remote))
	return err
}

// scan fingerprints both replicas. A path that failed on either side is
// dropped from both snapshots so no transfer or deletion touches it, and is
// returned in skipped.
func (s *SyncService) scan(ctx context.Context, cfg domain.SyncConfig) (local, remote diff.Snapshot, skipped []*transfer.PathError, err error) {
	local, localErrs, err := s.ScanLocal(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	remote, remoteErrs, err := s.ScanRemote(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	skipped = append(localErrs, remoteErrs...)
	for _, pe := range skipped {
		delete(local, pe.Path)
		delete(remote, pe.Path)
	}
	return local, remote, skipped, nil
}

func skippedPaths(skipped []*transfer.PathError) map[string]bool {
	paths := make(map[string]bool, len(skipped))
	for _, pe := range skipped {
		paths[pe.Path] = true
	}
	return paths
}

// resolveConflicts handles every path present on both sides. Identical
// content is adopted into the baseline; genuine conflicts go through the
// conflict handler and end up equal on both sides. Paths that fail are
// dropped from both snapshots so neither direction touches them.
func (s *SyncService) resolveConflicts(ctx context.Context, cfg domain.SyncConfig, local, remote diff.Snapshot, skipped map[string]bool, rep *Report) error {
	fs, err := localfs.New(cfg.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open local directory: %w", err)
	}
	log := s.log.With("sync_id", cfg.ID)
	handler := &conflict.Handler{
		Local:        fs,
		Remote:       s.client,
		VaultID:      cfg.VaultID,
		Strategy:     cfg.OnConflict,
		OnLocalWrite: s.Guard(cfg.ID).Mark,
		Logger:       log,
	}

	return s.states.Update(cfg.ID, func(st *domain.SyncState) error {
		changed := false
		for _, m := range []map[string]domain.FileState{st.Local, st.Remote} {
			for path := range m {
				_, inLocal := local[path]
				_, inRemote := remote[path]
				if !inLocal && !inRemote && !skipped[path] {
					st.Forget(path)
					changed = true
				}
			}
		}

		for _, path := range sharedPaths(local, remote) {
			ls, rs := local[path], remote[path]

			if ls.Hash == rs.Hash {
				lastL, okL := st.LastLocal(path)
				lastR, okR := st.LastRemote(path)
				if !okL || !okR || lastL.Hash != ls.Hash || lastR.Hash != rs.Hash {
					st.Local[path] = ls
					st.Remote[path] = rs
					changed = true
				}
				continue
			}
			if !conflict.DetectInState(ls, rs, st) {
				continue
			}

			res, err := s.handleConflict(ctx, handler, fs, cfg, path, ls, rs, st)
			if err != nil {
				rep.Errors = append(rep.Errors, &transfer.PathError{Path: path, Op: "conflict", Err: err})
				log.Warn("Failed to resolve conflict", "path", path, "error", err)
				delete(local, path)
				delete(remote, path)
				continue
			}
			local[path] = res.State
			remote[path] = res.State
			rep.Conflicts++
			changed = true
		}
		if !changed {
			return state.ErrUnchanged
		}
		return nil
	})
}

func (s *SyncService) handleConflict(ctx context.Context, h *conflict.Handler, fs *localfs.FS, cfg domain.SyncConfig, path string, ls, rs domain.FileState, st *domain.SyncState) (conflict.Resolution, error) {
	localState, localContent, err := fs.Stat(path)
	if err != nil {
		return conflict.Resolution{}, err
	}
	doc, err := retry.DoWithResult(ctx, s.opts.Retry, func() (*vault.Document, error) {
		return s.client.Get(ctx, cfg.VaultID, path)
	})
	if err != nil {
		return conflict.Resolution{}, err
	}
	remoteState := checksum.BuildRemoteFileState(path, doc.Content, doc.UpdatedAt)
	if remoteState.Hash != rs.Hash || localState.Hash != ls.Hash {
		return conflict.Resolution{}, fmt.Errorf("%s changed during reconciliation", path)
	}
	return h.Handle(ctx, path,
		conflict.Version{State: localState, Content: localContent},
		conflict.Version{State: remoteState, Content: doc.Content},
		st)
}

func (s *SyncService) record(rep Report, fatal error) {
	if s.history == nil {
		return
	}

	r := state.RunRecord{
		SyncID:    rep.SyncID,
		Trigger:   rep.Trigger,
		StartTime: rep.Started,
		EndTime:   rep.Finished,
		Status:    state.RunSuccess,
		Files:     rep.Files(),
		Bytes:     rep.Bytes(),
		Conflicts: rep.Conflicts,
	}
	switch {
	case fatal != nil:
		r.Status = state.RunFailed
		r.Error = fatal.Error()
	case rep.Err() != nil:
		r.Status = state.RunPartial
		r.Error = rep.Err().Error()
	}
	if err := s.history.Record(r); err != nil {
		s.log.Warn("Failed to record run", "sync_id", rep.SyncID, "error", err)
	}
}

// bidirectionalPush is the push half of a sync-mode reconciliation. A
// deletion only propagates when the other side did not change the file
// since the baseline; otherwise the edit wins and the file is restored.
func bidirectionalPush(local, remote diff.Snapshot, st *domain.SyncState) domain.SyncDiff {
	push := diff.ComputePushDiff(local, remote, st)

	uploads := push.Uploads[:0]
	for _, e := range push.Uploads {
		if e.Reason == diff.ReasonRestoreFromLocal {
			if last, ok := st.LastLocal(e.Path); ok && last.Hash == local[e.Path].Hash {
				continue
			}
		}
		uploads = append(uploads, e)
	}
	push.Uploads = uploads

	deletes := push.Deletes[:0]
	for _, e := range push.Deletes {
		if last, ok := st.LastRemote(e.Path); ok && last.Hash != remote[e.Path].Hash {
			continue
		}
		deletes = append(deletes, e)
	}
	push.Deletes = deletes

	push.TotalBytes = 0
	for _, e := range push.Uploads {
		push.TotalBytes += e.Size
	}
	return push
}

// settle folds the outcome of a push into the remote snapshot. An entry the
// baseline does not reflect failed or was skipped, and its path is dropped
// from both snapshots until the next run.
func settle(local, remote diff.Snapshot, push domain.SyncDiff, st *domain.SyncState) {
	for _, e := range push.Uploads {
		if rs, ok := st.LastRemote(e.Path); ok && rs.Hash == local[e.Path].Hash {
			remote[e.Path] = rs
			continue
		}
		delete(local, e.Path)
		delete(remote, e.Path)
	}
	for _, e := range push.Deletes {
		if _, ok := st.LastRemote(e.Path); !ok {
			delete(remote, e.Path)
			continue
		}
		delete(local, e.Path)
		delete(remote, e.Path)
	}
}

func sharedPaths(local, remote diff.Snapshot) []string {
	var paths []string
	for path := range local {
		if _, ok := remote[path]; ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func cloneState(st *domain.SyncState) *domain.SyncState {
	out := domain.NewSyncState(st.SyncID)
	for k, v := range st.Local {
		out.Local[k] = v
	}
	for k, v := range st.Remote {
		out.Remote[k] = v
	}
	return out
}
