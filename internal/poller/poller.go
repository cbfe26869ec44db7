// Package poller brings remote edits of one sync pair down to the local
// directory on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/core/conflict"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/ignore"
	"github.com/Ning0612/vaultsync/internal/localfs"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/scheduler"
	"github.com/Ning0612/vaultsync/internal/selfwrite"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/vault"
)

// Options tunes a Poller. Zero values select defaults.
type Options struct {
	Interval  time.Duration
	Extension string
	Matcher   *ignore.Matcher
	Guard     *selfwrite.Guard
	Retry     retry.Config

	// OnTick is called after every tick
	OnTick func(stats Stats, err error)
}

// Stats counts what one tick did
type Stats struct {
	Listed     int
	Downloaded int
	Touched    int // metadata-only refreshes
	Reconciled int // local already matched the new remote content
	Conflicts  int
	Deleted    int
	Kept       int // local edits left in place after a remote deletion
}

// Changed reports whether the tick modified anything
func (s Stats) Changed() bool {
	return s.Downloaded+s.Touched+s.Reconciled+s.Conflicts+s.Deleted+s.Kept > 0
}

// Poller watches one vault for remote changes
type Poller struct {
	cfg     domain.SyncConfig
	client  vault.Client
	local   *localfs.FS
	states  *state.Store
	opts    Options
	handler *conflict.Handler
	sched   *scheduler.IntervalScheduler
	log     logger.Logger
}

// New creates a poller for cfg. It does nothing until Start.
func New(cfg domain.SyncConfig, client vault.Client, local *localfs.FS, states *state.Store, opts Options) (*Poller, error) {
	if opts.Interval <= 0 {
		interval, err := scheduler.ParseInterval(cfg.SyncInterval)
		if err != nil {
			return nil, err
		}
		opts.Interval = interval
	}
	if opts.Extension == "" {
		opts.Extension = ".md"
	}
	if opts.Matcher == nil {
		opts.Matcher = ignore.New(cfg.Ignore)
	}
	if opts.Guard == nil {
		opts.Guard = selfwrite.New(selfwrite.DefaultTTL)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	log := logger.With("component", "poller", "sync_id", cfg.ID)
	p := &Poller{
		cfg:    cfg,
		client: client,
		local:  local,
		states: states,
		opts:   opts,
		handler: &conflict.Handler{
			Local:        local,
			Remote:       client,
			VaultID:      cfg.VaultID,
			Strategy:     cfg.OnConflict,
			OnLocalWrite: opts.Guard.Mark,
			Logger:       log,
		},
		log: log,
	}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Name:           "poller:" + cfg.ID,
		Interval:       opts.Interval,
		RunImmediately: true,
	}, scheduler.RunnerFunc(p.run))
	if err != nil {
		return nil, err
	}
	p.sched = sched
	return p, nil
}

// Interval returns the polling interval
func (p *Poller) Interval() time.Duration {
	return p.opts.Interval
}

// Start polls once immediately and then on every interval
func (p *Poller) Start(ctx context.Context) error {
	p.log.Info("Polling remote vault", "vault_id", p.cfg.VaultID, "interval", p.opts.Interval)
	return p.sched.Start(ctx)
}

// Stop cancels the ticker and waits for an in-flight tick
func (p *Poller) Stop() error {
	if err := p.sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		return err
	}
	return nil
}

// Status exposes the underlying scheduler statistics
func (p *Poller) Status() *scheduler.Status {
	return p.sched.Status()
}

func (p *Poller) run(ctx context.Context) error {
	stats, err := p.Tick(ctx)
	if p.opts.OnTick != nil {
		p.opts.OnTick(stats, err)
	}
	return err
}

// Tick performs one poll. Per-path failures are joined into the returned
// error; everything that succeeded is still persisted.
func (p *Poller) Tick(ctx context.Context) (Stats, error) {
	var stats Stats

	var itemErrs []error
	// listing under the pair lock keeps a concurrent watcher upload from
	// looking like a remote deletion
	err := p.states.Update(p.cfg.ID, func(st *domain.SyncState) error {
		entries, err := retry.DoWithResult(ctx, p.opts.Retry, func() ([]vault.Entry, error) {
			return p.client.List(ctx, p.cfg.VaultID)
		})
		if err != nil {
			return fmt.Errorf("failed to list vault: %w", err)
		}
		stats.Listed = len(entries)

		seen := make(map[string]bool, len(entries))
		for _, entry := range entries {
			seen[entry.Path] = true
			if p.opts.Matcher.Match(entry.Path) || !localfs.IsTracked(entry.Path, p.opts.Extension) {
				continue
			}
			if err := p.pollEntry(ctx, entry, st, &stats); err != nil {
				p.log.Warn("Failed to apply remote change", "path", entry.Path, "error", err)
				itemErrs = append(itemErrs, fmt.Errorf("%s: %w", entry.Path, err))
			}
		}

		var gone []string
		for path := range st.Remote {
			if !seen[path] {
				gone = append(gone, path)
			}
		}
		sort.Strings(gone)
		for _, path := range gone {
			if err := p.applyRemoteDelete(path, st, &stats); err != nil {
				p.log.Warn("Failed to apply remote deletion", "path", path, "error", err)
				itemErrs = append(itemErrs, fmt.Errorf("%s: %w", path, err))
			}
		}

		if !stats.Changed() {
			return state.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if stats.Changed() {
		p.log.Info("Applied remote changes",
			"downloaded", stats.Downloaded, "touched", stats.Touched, "reconciled", stats.Reconciled,
			"conflicts", stats.Conflicts, "deleted", stats.Deleted, "kept", stats.Kept)
	}
	return stats, errors.Join(itemErrs...)
}

func (p *Poller) pollEntry(ctx context.Context, entry vault.Entry, st *domain.SyncState, stats *Stats) error {
	path := entry.Path
	lastRemote, hasRemote := st.LastRemote(path)
	if hasRemote && lastRemote.MTime.Equal(entry.FileModifiedAt) {
		return nil
	}

	doc, err := retry.DoWithResult(ctx, p.opts.Retry, func() (*vault.Document, error) {
		return p.client.Get(ctx, p.cfg.VaultID, path)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// removed between List and Get; the next tick sees the deletion
			return nil
		}
		return err
	}
	remoteState := checksum.BuildRemoteFileState(path, doc.Content, doc.UpdatedAt)

	if hasRemote && remoteState.Hash == lastRemote.Hash {
		st.Remote[path] = remoteState
		stats.Touched++
		return nil
	}

	localState, localContent, err := p.local.Stat(path)
	localExists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if localExists && localState.Hash == remoteState.Hash {
		st.Local[path] = localState
		st.Remote[path] = remoteState
		stats.Reconciled++
		return nil
	}

	if localExists && conflict.DetectInState(localState, remoteState, st) {
		_, err := p.handler.Handle(ctx, path,
			conflict.Version{State: localState, Content: localContent},
			conflict.Version{State: remoteState, Content: doc.Content},
			st)
		if err != nil {
			return err
		}
		stats.Conflicts++
		return nil
	}

	p.opts.Guard.Mark(path)
	if err := p.local.Write(path, doc.Content); err != nil {
		return err
	}
	written, _, err := p.local.Stat(path)
	if err != nil {
		written = remoteState
	}
	st.Local[path] = written
	st.Remote[path] = remoteState
	stats.Downloaded++
	p.log.Debug("Downloaded remote change", "path", path, "size", remoteState.Size)
	return nil
}

// applyRemoteDelete mirrors a remote deletion. In sync mode a local file
// edited since the last sync is kept and dropped from the baseline, so the
// next push uploads it again.
func (p *Poller) applyRemoteDelete(path string, st *domain.SyncState, stats *Stats) error {
	if p.local.Exists(path) {
		if p.cfg.Mode == domain.SyncModeSync {
			edited, err := p.editedLocally(path, st)
			if err != nil {
				return err
			}
			if edited {
				p.log.Info("Keeping locally edited file deleted remotely", "path", path)
				st.Forget(path)
				stats.Kept++
				return nil
			}
		}
		p.opts.Guard.Mark(path)
		if err := p.local.Delete(path); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	st.Forget(path)
	stats.Deleted++
	return nil
}

func (p *Poller) editedLocally(path string, st *domain.SyncState) (bool, error) {
	last, ok := st.LastLocal(path)
	if !ok {
		return true, nil
	}
	cur, _, err := p.local.Stat(path)
	if err != nil {
		return false, err
	}
	return cur.Hash != last.Hash, nil
}
