// Package transfer executes a computed diff against both replicas.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/localfs"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/progress"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/vault"
)

// PathError is a failure of one diff entry
type PathError struct {
	Path string
	Op   string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Result aggregates one run
type Result struct {
	Uploaded         int
	Downloaded       int
	Deleted          int
	Skipped          int // transfers not attempted after a quota error
	BytesTransferred int64
	Errors           []*PathError
}

// Files returns the number of completed items
func (r Result) Files() int {
	return r.Uploaded + r.Downloaded + r.Deleted
}

// Err joins every per-path error, or nil
func (r Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Merge adds other's counters and errors to r
func (r *Result) Merge(other Result) {
	r.Uploaded += other.Uploaded
	r.Downloaded += other.Downloaded
	r.Deleted += other.Deleted
	r.Skipped += other.Skipped
	r.BytesTransferred += other.BytesTransferred
	r.Errors = append(r.Errors, other.Errors...)
}

// Options configures an Executor
type Options struct {
	Retry    retry.Config
	Listener progress.Listener

	// OnLocalWrite is called before the executor writes or deletes a local file
	OnLocalWrite func(relPath string)
}

// Executor moves content between the local replica and a vault
type Executor struct {
	client vault.Client
	local  *localfs.FS
	states *state.Store
	opts   Options
	now    func() time.Time
}

// NewExecutor creates an executor for one local replica
func NewExecutor(client vault.Client, local *localfs.FS, states *state.Store, opts Options) *Executor {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Executor{client: client, local: local, states: states, opts: opts, now: time.Now}
}

// run tracks counters shared by the steps of one execution
type run struct {
	e      *Executor
	cfg    domain.SyncConfig
	log    logger.Logger
	res    Result
	total  int
	bytes  int64
	cursor int
}

func (e *Executor) newRun(cfg domain.SyncConfig, diff domain.SyncDiff, direction string) *run {
	return &run{
		e:     e,
		cfg:   cfg,
		log:   logger.With("component", "transfer", "sync_id", cfg.ID, "direction", direction),
		total: diff.Len(),
		bytes: diff.TotalBytes,
	}
}

func (r *run) notify(phase progress.Phase, path string, err error) {
	progress.Notify(r.e.opts.Listener, progress.Event{
		Phase:            phase,
		Current:          r.cursor,
		Total:            r.total,
		Path:             path,
		BytesTransferred: r.res.BytesTransferred,
		BytesTotal:       r.bytes,
		Err:              err,
	})
}

func (r *run) fail(path, op string, err error) {
	r.res.Errors = append(r.res.Errors, &PathError{Path: path, Op: op, Err: err})
	r.log.Warn("Transfer item failed", "path", path, "op", op, "error", err)
}

func (r *run) finish() Result {
	progress.Notify(r.e.opts.Listener, progress.Event{
		Phase:            progress.PhaseDone,
		Current:          r.cursor,
		Total:            r.total,
		BytesTransferred: r.res.BytesTransferred,
		BytesTotal:       r.bytes,
	})
	r.log.Info("Transfer finished",
		"uploaded", r.res.Uploaded, "downloaded", r.res.Downloaded, "deleted", r.res.Deleted,
		"skipped", r.res.Skipped, "bytes", r.res.BytesTransferred, "errors", len(r.res.Errors))
	return r.res
}

// transfers runs step for each entry. A quota error stops the queue and the
// remaining entries are logged as skipped.
func (r *run) transfers(ctx context.Context, entries []domain.DiffEntry, phase progress.Phase, step func(context.Context, domain.DiffEntry) (int64, error)) {
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			r.skip(entries[i:], err)
			return
		}

		r.cursor++
		n, err := step(ctx, entry)
		if err != nil {
			r.fail(entry.Path, string(phase), err)
			r.notify(phase, entry.Path, err)
			if errors.Is(err, domain.ErrQuotaExceeded) {
				r.skip(entries[i+1:], err)
				return
			}
			continue
		}

		r.res.BytesTransferred += n
		if phase == progress.PhaseUpload {
			r.res.Uploaded++
		} else {
			r.res.Downloaded++
		}
		r.notify(phase, entry.Path, nil)
	}
}

func (r *run) skip(entries []domain.DiffEntry, cause error) {
	for _, entry := range entries {
		r.res.Skipped++
		r.log.Warn("Transfer skipped", "path", entry.Path, "reason", cause)
	}
}

// deletes never stop the run
func (r *run) deletes(ctx context.Context, entries []domain.DiffEntry, step func(context.Context, domain.DiffEntry) error) {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			r.skip([]domain.DiffEntry{entry}, err)
			continue
		}
		r.cursor++
		if err := step(ctx, entry); err != nil {
			r.fail(entry.Path, string(progress.PhaseDelete), err)
			r.notify(progress.PhaseDelete, entry.Path, err)
			continue
		}
		r.res.Deleted++
		r.notify(progress.PhaseDelete, entry.Path, nil)
	}
}

// ExecutePull downloads and deletes locally according to a pull diff
func (e *Executor) ExecutePull(ctx context.Context, cfg domain.SyncConfig, diff domain.SyncDiff) Result {
	r := e.newRun(cfg, diff, "pull")
	r.transfers(ctx, diff.Downloads, progress.PhaseDownload, func(ctx context.Context, entry domain.DiffEntry) (int64, error) {
		return e.download(ctx, cfg, entry.Path)
	})
	r.deletes(ctx, diff.Deletes, func(ctx context.Context, entry domain.DiffEntry) error {
		return e.deleteLocal(cfg, entry.Path)
	})
	return r.finish()
}

// ExecutePush uploads and deletes remotely according to a push diff
func (e *Executor) ExecutePush(ctx context.Context, cfg domain.SyncConfig, diff domain.SyncDiff) Result {
	r := e.newRun(cfg, diff, "push")
	r.transfers(ctx, diff.Uploads, progress.PhaseUpload, func(ctx context.Context, entry domain.DiffEntry) (int64, error) {
		return e.upload(ctx, cfg, entry.Path)
	})
	r.deletes(ctx, diff.Deletes, func(ctx context.Context, entry domain.DiffEntry) error {
		return e.deleteRemote(ctx, cfg, entry.Path)
	})
	return r.finish()
}

func (e *Executor) retryConfig(path string, cfg domain.SyncConfig) retry.Config {
	rc := e.opts.Retry
	log := logger.With("component", "transfer", "sync_id", cfg.ID)
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Debug("Retrying transfer", "path", path, "attempt", attempt, "wait", wait, "error", err)
	}
	return rc
}

func (e *Executor) markLocal(path string) {
	if e.opts.OnLocalWrite != nil {
		e.opts.OnLocalWrite(path)
	}
}

func (e *Executor) download(ctx context.Context, cfg domain.SyncConfig, path string) (int64, error) {
	doc, err := retry.DoWithResult(ctx, e.retryConfig(path, cfg), func() (*vault.Document, error) {
		return e.client.Get(ctx, cfg.VaultID, path)
	})
	if err != nil {
		return 0, err
	}

	e.markLocal(path)
	if err := e.local.Write(path, doc.Content); err != nil {
		return 0, err
	}

	remoteState := checksum.BuildRemoteFileState(path, doc.Content, doc.UpdatedAt)
	localState, _, err := e.local.Stat(path)
	if err != nil {
		localState = remoteState
	}

	err = e.states.Update(cfg.ID, func(st *domain.SyncState) error {
		st.Local[path] = localState
		st.Remote[path] = remoteState
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record state: %w", err)
	}
	return int64(len(doc.Content)), nil
}

func (e *Executor) upload(ctx context.Context, cfg domain.SyncConfig, path string) (int64, error) {
	localState, content, err := e.local.Stat(path)
	if err != nil {
		return 0, err
	}

	err = retry.Do(ctx, e.retryConfig(path, cfg), func() error {
		return e.client.Put(ctx, cfg.VaultID, path, content)
	})
	if err != nil {
		return 0, err
	}

	remoteState := checksum.BuildRemoteFileState(path, content, e.now())
	err = e.states.Update(cfg.ID, func(st *domain.SyncState) error {
		st.Local[path] = localState
		st.Remote[path] = remoteState
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record state: %w", err)
	}
	return int64(len(content)), nil
}

func (e *Executor) deleteLocal(cfg domain.SyncConfig, path string) error {
	e.markLocal(path)
	if err := e.local.Delete(path); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return e.states.Update(cfg.ID, func(st *domain.SyncState) error {
		st.Forget(path)
		return nil
	})
}

func (e *Executor) deleteRemote(ctx context.Context, cfg domain.SyncConfig, path string) error {
	err := retry.Do(ctx, e.retryConfig(path, cfg), func() error {
		return e.client.Delete(ctx, cfg.VaultID, path)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return e.states.Update(cfg.ID, func(st *domain.SyncState) error {
		st.Forget(path)
		return nil
	})
}
