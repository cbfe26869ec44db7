// Package scheduler runs a task on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is used when a sync pair has no syncInterval
const DefaultInterval = 30 * time.Second

// Scheduler defines the interface for periodic runners
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler and waits for an in-flight run
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	SkippedRuns    int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Name identifies the scheduler in logs
	Name string

	// Interval specifies the duration between runs
	Interval time.Duration

	// RunImmediately runs the task once on Start before the first tick
	RunImmediately bool
}

// Runner is the task a scheduler executes
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run implements Runner
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// ParseInterval parses "30s", "5m" or "1h". Empty input yields DefaultInterval.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultInterval, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	switch s[len(s)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval unit in %q", s)
}
