package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/vaultsync/internal/logger"
)

// ErrNotRunning is returned by Stop on a scheduler that was never started
var ErrNotRunning = errors.New("scheduler is not running")

// IntervalScheduler implements periodic scheduling using time.Ticker
type IntervalScheduler struct {
	config Config
	runner Runner
	log    logger.Logger

	// runMu is held while a run is in flight; overlapping triggers are skipped
	runMu sync.Mutex

	// Runtime state
	mu          sync.RWMutex
	running     bool
	stopped     bool      // Track if stopped to prevent restart
	stopOnce    sync.Once // Ensure Stop() is idempotent
	closeOnce   sync.Once // Ensure stoppedChan is closed exactly once
	stopChan    chan struct{}
	stoppedChan chan struct{}

	// Statistics
	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		skippedRuns    int
		lastError      string
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner Runner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}

	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		log:         logger.With("component", "scheduler", "name", config.Name),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)

	go s.run(ctx)

	return nil
}

// run is the main scheduling loop
func (s *IntervalScheduler) run(ctx context.Context) {
	defer s.closeOnce.Do(func() {
		// wait for a run started through Trigger
		s.runMu.Lock()
		s.runMu.Unlock()
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	if s.config.RunImmediately {
		s.Trigger(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger runs the task now unless a run is already in flight, in which case
// the trigger is counted as skipped. It reports whether the task ran.
func (s *IntervalScheduler) Trigger(ctx context.Context) bool {
	if !s.runMu.TryLock() {
		s.mu.Lock()
		s.stats.skippedRuns++
		s.mu.Unlock()
		s.log.Debug("Skipping run, previous run still in progress")
		return false
	}
	defer s.runMu.Unlock()

	s.execute(ctx)
	return true
}

// execute runs the task once and records statistics
func (s *IntervalScheduler) execute(ctx context.Context) {
	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	s.stats.nextRunTime = time.Now().Add(s.config.Interval)
	s.mu.Unlock()

	err := s.safeRun(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
	} else {
		s.stats.successfulRuns++
		s.stats.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("Scheduled run failed", "error", err)
	}
}

func (s *IntervalScheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduled run: %v", r)
		}
	}()
	return s.runner.Run(ctx)
}

// Stop gracefully stops the scheduler. It waits for an in-flight run and may
// be called more than once.
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running && !s.stopped {
		s.mu.RUnlock()
		return ErrNotRunning
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	<-s.stoppedChan

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	return nil
}

// Done is closed once the loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.stoppedChan
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		SkippedRuns:    s.stats.skippedRuns,
		LastError:      s.stats.lastError,
	}
}
