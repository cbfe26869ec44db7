package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/vaultsync/internal/daemon"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
	"github.com/Ning0612/vaultsync/internal/poller"
	"github.com/Ning0612/vaultsync/internal/scheduler"
	"github.com/Ning0612/vaultsync/internal/watcher"
)

// TriggerStartup names the reconciliation run when the worker starts
const TriggerStartup = "startup"

// registry holds the handles the worker started, keyed by sync id
type registry struct {
	mu       sync.Mutex
	watchers map[string]*watcher.Watcher
	pollers  map[string]*poller.Poller
}

func newRegistry() *registry {
	return &registry{
		watchers: make(map[string]*watcher.Watcher),
		pollers:  make(map[string]*poller.Poller),
	}
}

func (r *registry) addWatcher(id string, w *watcher.Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[id] = w
}

func (r *registry) addPoller(id string, p *poller.Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollers[id] = p
}

// drain empties the registry and returns what it held
func (r *registry) drain() (map[string]*watcher.Watcher, map[string]*poller.Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ps := r.watchers, r.pollers
	r.watchers = make(map[string]*watcher.Watcher)
	r.pollers = make(map[string]*poller.Poller)
	return ws, ps
}

// PairStatus is what the worker runs for one pair
type PairStatus struct {
	SyncID   string
	Watching bool
	Polling  *scheduler.Status // nil without a poller
}

func (r *registry) status() []PairStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*PairStatus)
	get := func(id string) *PairStatus {
		if ps, ok := byID[id]; ok {
			return ps
		}
		ps := &PairStatus{SyncID: id}
		byID[id] = ps
		return ps
	}
	for id := range r.watchers {
		get(id).Watching = true
	}
	for id, p := range r.pollers {
		get(id).Polling = p.Status()
	}

	out := make([]PairStatus, 0, len(byID))
	for _, ps := range byID {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncID < out[j].SyncID })
	return out
}

// Worker is the body of the daemon process: one startup reconciliation per
// auto-sync pair, then a watcher and an optional poller per pair until the
// context is cancelled.
type Worker struct {
	svc     *SyncService
	pidFile *daemon.PIDFile
	log     logger.Logger

	reg      *registry
	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// NewWorker creates a worker recording its pid at pidPath
func NewWorker(svc *SyncService, pidPath string) *Worker {
	return &Worker{
		svc:     svc,
		pidFile: daemon.NewPIDFile(pidPath),
		log:     logger.With("component", "daemon"),
		reg:     newRegistry(),
	}
}

// Run blocks until ctx is cancelled, then shuts everything down. It returns
// nil when there is nothing to sync. A startup failure releases the PID record
// and is returned.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write pid record: %w", err)
	}

	configs := w.svc.Configs().ListAutoSync()
	if len(configs) == 0 {
		w.log.Info("No auto-sync pairs configured, exiting")
		return w.releasePID()
	}
	w.log.Info("Daemon worker starting", "pairs", len(configs))

	for _, cfg := range configs {
		if ctx.Err() != nil {
			break
		}
		w.reconcileAtStartup(ctx, cfg)
	}

	// handles outlive the signal so in-flight work can finish
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.startPairs(runCtx, configs); err != nil {
		w.Shutdown()
		return err
	}

	<-ctx.Done()
	w.log.Info("Termination requested, shutting down")
	return w.Shutdown()
}

func (w *Worker) reconcileAtStartup(ctx context.Context, cfg domain.SyncConfig) {
	log := w.log.With("sync_id", cfg.ID, "vault_id", cfg.VaultID, "mode", string(cfg.Mode))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Startup reconciliation panicked", "panic", r)
		}
	}()

	rep, err := w.svc.Reconcile(ctx, cfg, TriggerStartup)
	if err != nil {
		log.Error("Startup reconciliation failed", "error", err, "files", rep.Files())
		return
	}
	log.Info("Startup reconciliation complete", "files", rep.Files(), "conflicts", rep.Conflicts)
}

// startPairs fails only when no pair could be started at all
func (w *Worker) startPairs(ctx context.Context, configs []domain.SyncConfig) error {
	var errs []error
	started := 0
	for _, cfg := range configs {
		if err := w.startPair(ctx, cfg); err != nil {
			w.log.Error("Failed to start pair", "sync_id", cfg.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cfg.ID, err))
			continue
		}
		started++
	}
	if started == 0 && len(errs) > 0 {
		return fmt.Errorf("no sync pair could be started: %w", errors.Join(errs...))
	}
	return nil
}

func (w *Worker) startPair(ctx context.Context, cfg domain.SyncConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while starting pair: %v", r)
		}
	}()

	if cfg.WatchesLocal() {
		wt, err := w.svc.NewWatcher(cfg)
		if err != nil {
			return err
		}
		if err := wt.Start(ctx); err != nil {
			return err
		}
		w.reg.addWatcher(cfg.ID, wt)
	}

	if cfg.PollsRemote() {
		p, err := w.svc.NewPoller(cfg)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}
		w.reg.addPoller(cfg.ID, p)
	}

	w.log.Info("Pair started", "sync_id", cfg.ID, "watching", cfg.WatchesLocal(), "polling", cfg.PollsRemote())
	return nil
}

// Status lists what the worker currently runs
func (w *Worker) Status() []PairStatus {
	return w.reg.status()
}

// Shutdown stops every poller, waits for every watcher and releases the PID
// record. Only the first call does anything.
func (w *Worker) Shutdown() error {
	w.stopOnce.Do(func() {
		watchers, pollers := w.reg.drain()

		for id, p := range pollers {
			if err := p.Stop(); err != nil {
				w.log.Warn("Failed to stop poller", "sync_id", id, "error", err)
			}
		}

		var g errgroup.Group
		for id, wt := range watchers {
			id, wt := id, wt
			g.Go(func() error {
				if err := wt.Stop(); err != nil {
					return fmt.Errorf("watcher %s: %w", id, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			w.log.Warn("Watcher shutdown reported an error", "error", err)
		}

		w.mu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.mu.Unlock()
		w.stopErr = w.releasePID()
		w.log.Info("Daemon worker stopped")
	})
	return w.stopErr
}

func (w *Worker) releasePID() error {
	if err := w.pidFile.Remove(); err != nil {
		return fmt.Errorf("failed to remove pid record: %w", err)
	}
	return nil
}
