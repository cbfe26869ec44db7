// Package watcher pushes local edits to the vault as they happen.
//
// Filesystem events are debounced per path: every event re-arms the path's
// timer and bumps a generation token, so only the last timer of a burst runs
// the reconciliation. When it fires, the handler looks at what is on disk at
// that moment, which folds create/write/rename/remove sequences into a single
// upsert or delete.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/core/conflict"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/ignore"
	"github.com/Ning0612/vaultsync/internal/localfs"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/retry"
	"github.com/Ning0612/vaultsync/internal/selfwrite"
	"github.com/Ning0612/vaultsync/internal/state"
	"github.com/Ning0612/vaultsync/internal/vault"
)

const (
	// DefaultDebounce is the quiet period before a path is reconciled
	DefaultDebounce = 300 * time.Millisecond

	// DefaultExtension is the tracked document extension
	DefaultExtension = ".md"
)

// Options tunes a Watcher. Zero values select defaults.
type Options struct {
	Debounce  time.Duration
	Extension string
	Matcher   *ignore.Matcher
	Guard     *selfwrite.Guard
	Retry     retry.Config

	// OnHandled is called after each reconciliation attempt
	OnHandled func(relPath string, err error)
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Watcher observes one sync pair's local directory
type Watcher struct {
	cfg     domain.SyncConfig
	client  vault.Client
	local   *localfs.FS
	states  *state.Store
	opts    Options
	handler *conflict.Handler
	log     logger.Logger
	now     func() time.Time

	fsw *fsnotify.Watcher
	ctx context.Context

	mu       sync.Mutex
	pending  map[string]*pending
	gen      uint64
	started  bool
	closed   bool
	loop     sync.WaitGroup
	handlers sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New creates a watcher for cfg. It does nothing until Start.
func New(cfg domain.SyncConfig, client vault.Client, local *localfs.FS, states *state.Store, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
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

	log := logger.With("component", "watcher", "sync_id", cfg.ID)
	return &Watcher{
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
		log:     log,
		now:     time.Now,
		pending: make(map[string]*pending),
	}
}

// Guard returns the self-write guard shared with the pair's poller
func (w *Watcher) Guard() *selfwrite.Guard {
	return w.opts.Guard
}

// Start registers the directory tree and begins processing events. ctx is
// used for remote calls made by reconciliations.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fsw = fsw
	w.ctx = ctx

	if _, err := w.addTree(""); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.local.Root(), err)
	}

	w.started = true
	w.loop.Add(1)
	go w.processEvents()

	w.log.Info("Watching local directory", "path", w.local.Root())
	return nil
}

// addTree watches relDir and every non-pruned directory below it. It returns
// the tracked files found on the way.
func (w *Watcher) addTree(relDir string) ([]string, error) {
	var files []string
	stack := []string{relDir}

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		abs, err := w.local.Abs(dir)
		if err != nil {
			return files, err
		}
		if err := w.fsw.Add(abs); err != nil {
			if dir == relDir {
				return files, err
			}
			w.log.Warn("Failed to watch directory", "dir", dir, "error", err)
			continue
		}

		entries, err := os.ReadDir(abs)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			rel := entry.Name()
			if dir != "" {
				rel = dir + "/" + entry.Name()
			}
			if entry.IsDir() {
				if !w.opts.Matcher.ShouldPruneDir(rel) {
					stack = append(stack, rel)
				}
				continue
			}
			if localfs.IsTracked(rel, w.opts.Extension) && !w.opts.Matcher.Match(rel) {
				files = append(files, rel)
			}
		}
	}
	return files, nil
}

// processEvents is the main event loop
func (w *Watcher) processEvents() {
	defer w.loop.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("Filesystem watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	rel, ok := w.local.Rel(event.Name)
	if !ok || rel == "" {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.opts.Matcher.ShouldPruneDir(rel) {
				return
			}
			files, err := w.addTree(rel)
			if err != nil {
				w.log.Warn("Failed to watch new directory", "dir", rel, "error", err)
			}
			// files written before the watch was in place
			for _, f := range files {
				w.schedule(f)
			}
			return
		}
	}

	if w.opts.Matcher.Match(rel) || !localfs.IsTracked(rel, w.opts.Extension) {
		return
	}
	if w.opts.Guard.IsRecent(rel) {
		w.log.Debug("Ignoring self-written file", "path", rel)
		return
	}
	w.schedule(rel)
}

// schedule arms or re-arms the debounce timer for relPath
func (w *Watcher) schedule(relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.gen++
	gen := w.gen
	if p, ok := w.pending[relPath]; ok {
		p.timer.Stop()
	}
	w.pending[relPath] = &pending{
		gen:   gen,
		timer: time.AfterFunc(w.opts.Debounce, func() { w.fire(relPath, gen) }),
	}
}

func (w *Watcher) fire(relPath string, gen uint64) {
	w.mu.Lock()
	p, ok := w.pending[relPath]
	if w.closed || !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, relPath)
	w.handlers.Add(1)
	w.mu.Unlock()

	defer w.handlers.Done()
	w.process(relPath)
}

// Pending returns the number of armed debounce timers
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) process(relPath string) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("Recovered panic in watcher handler", "path", relPath, "panic", r)
		}
		if w.opts.OnHandled != nil {
			w.opts.OnHandled(relPath, err)
		}
	}()

	if w.local.Exists(relPath) {
		err = w.upsert(w.ctx, relPath)
	} else {
		err = w.remove(w.ctx, relPath)
	}
	if err != nil {
		w.log.Warn("Failed to sync local change", "path", relPath, "error", err)
	}
}

// upsert pushes relPath, resolving a conflict first when the remote moved too
func (w *Watcher) upsert(ctx context.Context, relPath string) error {
	return w.states.Update(w.cfg.ID, func(st *domain.SyncState) error {
		localState, content, err := w.local.Stat(relPath)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return state.ErrUnchanged
			}
			return err
		}

		lastLocal, hasLocal := st.LastLocal(relPath)
		lastRemote, hasRemote := st.LastRemote(relPath)
		if hasLocal && hasRemote && lastLocal.Hash == localState.Hash && lastRemote.Hash == localState.Hash {
			return state.ErrUnchanged
		}

		if w.cfg.Mode == domain.SyncModeSync && hasRemote {
			resolved, err := w.checkRemote(ctx, relPath, localState, content, lastRemote, st)
			if err != nil || resolved {
				return err
			}
		}

		err = retry.Do(ctx, w.opts.Retry, func() error {
			return w.client.Put(ctx, w.cfg.VaultID, relPath, content)
		})
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		st.Local[relPath] = localState
		st.Remote[relPath] = checksum.BuildRemoteFileState(relPath, content, w.now())
		w.log.Info("Uploaded local change", "path", relPath, "size", localState.Size)
		return nil
	})
}

// checkRemote fetches the remote copy and handles a concurrent remote edit.
// It reports true when nothing is left to upload.
func (w *Watcher) checkRemote(ctx context.Context, relPath string, localState domain.FileState, content []byte, lastRemote domain.FileState, st *domain.SyncState) (bool, error) {
	doc, err := retry.DoWithResult(ctx, w.opts.Retry, func() (*vault.Document, error) {
		return w.client.Get(ctx, w.cfg.VaultID, relPath)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// deleted remotely; the local edit brings it back
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch remote copy: %w", err)
	}

	remoteState := checksum.BuildRemoteFileState(relPath, doc.Content, doc.UpdatedAt)
	if remoteState.Hash == lastRemote.Hash {
		return false, nil
	}

	if !conflict.DetectInState(localState, remoteState, st) {
		// only the remote moved; the poller brings it down
		w.log.Debug("Remote is ahead, skipping upload", "path", relPath)
		return true, state.ErrUnchanged
	}

	_, err = w.handler.Handle(ctx, relPath,
		conflict.Version{State: localState, Content: content},
		conflict.Version{State: remoteState, Content: doc.Content},
		st)
	return true, err
}

// remove propagates a local deletion
func (w *Watcher) remove(ctx context.Context, relPath string) error {
	return w.states.Update(w.cfg.ID, func(st *domain.SyncState) error {
		_, hasLocal := st.LastLocal(relPath)
		_, hasRemote := st.LastRemote(relPath)
		if !hasLocal && !hasRemote {
			return state.ErrUnchanged
		}

		if w.cfg.Mode != domain.SyncModePull {
			err := retry.Do(ctx, w.opts.Retry, func() error {
				return w.client.Delete(ctx, w.cfg.VaultID, relPath)
			})
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("remote delete failed: %w", err)
			}
		}

		st.Forget(relPath)
		w.log.Info("Propagated local deletion", "path", relPath)
		return nil
	})
}

// Stop cancels pending timers, closes the fsnotify handle and waits for
// in-flight reconciliations. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		for path, p := range w.pending {
			p.timer.Stop()
			delete(w.pending, path)
		}
		started := w.started
		w.mu.Unlock()

		if started {
			if err := w.fsw.Close(); err != nil {
				w.stopErr = fmt.Errorf("failed to close watcher: %w", err)
			}
			w.loop.Wait()
		}
		w.handlers.Wait()
		w.opts.Guard.Clear()
		w.log.Info("Watcher stopped")
	})
	return w.stopErr
}
