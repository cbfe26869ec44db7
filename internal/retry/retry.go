// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int           // total attempts including the first, at least 1
	BaseDelay   time.Duration // wait after the first failure
	MaxDelay    time.Duration // cap for a single wait (0 = uncapped)
	Multiplier  float64       // backoff multiplier
	Jitter      float64       // jitter factor (0-1)

	// Retryable classifies errors; defaults to domain.IsRetryable
	Retryable func(error) bool

	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig is three attempts starting at 500ms, doubling
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Backoff returns the wait after the given failed attempt (1-based), without jitter
func (c Config) Backoff(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	wait := float64(c.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && wait > float64(c.MaxDelay) {
		wait = float64(c.MaxDelay)
	}
	return time.Duration(wait)
}

func (c Config) wait(attempt int) time.Duration {
	wait := float64(c.Backoff(attempt))
	if c.Jitter > 0 {
		wait += wait * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for operations returning a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = domain.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		wait := cfg.wait(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
