// Package retry re-attempts collaborator calls that failed with a transient
// error, backing off exponentially between attempts. Rejections and
// validation failures are never retried.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int              // Attempts including the first; 1 disables retry
	InitialDelay    time.Duration    // Delay before the second attempt
	MaxDelay        time.Duration    // Upper bound of any delay
	Multiplier      float64          // Backoff multiplier
	RandomizeFactor float64          // Jitter factor (0-1)
	RetryIf         func(error) bool // Decides whether an error is worth another attempt
}

// DefaultConfig returns a configuration that never retries
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     1,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         reserrors.IsRetryable,
	}
}

// ForBatch builds the per-item policy used by the batch orchestrator
func ForBatch(attempts int, initialDelay time.Duration) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	if initialDelay > 0 {
		cfg.InitialDelay = initialDelay
	}
	return cfg
}

// Operation represents a retryable operation
type Operation func(ctx context.Context) error

// Result contains the result of a retry operation
type Result struct {
	Attempts int           // Number of attempts made
	Duration time.Duration // Total duration of all attempts
	Err      error         // Final error (nil if successful)
}

// Retrier runs operations under a Config; it is safe for concurrent use
type Retrier struct {
	config *Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a new retrier with the given configuration
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.RandomizeFactor < 0 {
		cfg.RandomizeFactor = 0
	} else if cfg.RandomizeFactor > 1 {
		cfg.RandomizeFactor = 1
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = reserrors.IsRetryable
	}
	return &Retrier{config: &cfg, sleep: sleepContext}
}

// MaxAttempts returns the effective attempt limit
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do executes the operation, retrying while RetryIf approves and attempts
// remain. A cancelled ctx stops further attempts but never interrupts one
// already running.
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	result := &Result{}
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if attempt == r.config.MaxAttempts || !r.config.RetryIf(err) {
			break
		}

		if serr := r.sleep(ctx, r.jitter(delay)); serr != nil {
			result.Err = fmt.Errorf("retry abandoned after %d attempts: %w", attempt, err)
			break
		}
		delay = r.next(delay)
	}

	result.Duration = time.Since(start)
	return result
}

// jitter spreads delay by RandomizeFactor in both directions
func (r *Retrier) jitter(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}
	delta := float64(delay) * r.config.RandomizeFactor
	return time.Duration(float64(delay) - delta + rand.Float64()*2*delta) // #nosec G404 -- jitter only
}

func (r *Retrier) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * r.config.Multiplier)
	if next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
