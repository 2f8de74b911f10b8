// Package retry runs operations with exponential backoff, retrying only
// errors whose code marks them transient.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dashcache/dashcache/pkg/errors"
)

// Config defines retry behavior
type Config struct {
	// MaxAttempts counts the initial attempt
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads each delay by up to 20% either way
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors lists codes retried even when the error itself is not
	// flagged retryable. Errors that are not DashErrors are never retried.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the delivery retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Stats counts outcomes across every Do call on a Retryer.
type Stats struct {
	Calls     int64 `json:"calls"`
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// Retryer runs functions with exponential backoff.
type Retryer struct {
	config Config

	calls     atomic.Int64
	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

// New creates a Retryer, filling zero fields from DefaultConfig.
func New(config Config) *Retryer {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}

	return &Retryer{config: config}
}

// Do executes fn until it succeeds, returns a non-retryable error, runs
// out of attempts, or ctx is done.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	r.calls.Add(1)
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			r.failures.Add(1)
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		r.attempts.Add(1)
		err := fn(ctx)
		if err == nil {
			r.successes.Add(1)
			return nil
		}
		lastErr = err

		if !r.Retryable(err) {
			r.failures.Add(1)
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.failures.Add(1)
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	r.failures.Add(1)
	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// Stats returns the outcome counters.
func (r *Retryer) Stats() Stats {
	return Stats{
		Calls:     r.calls.Load(),
		Attempts:  r.attempts.Load(),
		Successes: r.successes.Load(),
		Failures:  r.failures.Load(),
	}
}

// Retryable reports whether err would be retried by r.
func (r *Retryer) Retryable(err error) bool {
	var de *errors.DashError
	if !stderr.As(err, &de) {
		return false
	}
	if de.Retryable {
		return true
	}
	for _, code := range r.config.RetryableErrors {
		if de.Code == code {
			return true
		}
	}
	return false
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}

	return time.Duration(delay)
}

// WithMaxAttempts returns a copy of r with a different attempt limit.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	config := r.config
	config.MaxAttempts = attempts
	return New(config)
}

// WithOnRetry returns a copy of r with a retry callback.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	config := r.config
	config.OnRetry = callback
	return New(config)
}
