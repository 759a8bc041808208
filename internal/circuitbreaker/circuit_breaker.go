// Package circuitbreaker stops calling the collaborator after a run of
// transient failures, failing items fast until a cool-down has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned instead of running the guarded call
var (
	ErrCircuitOpen               = errors.New("collaborator circuit breaker is open")
	ErrTooManyConcurrentRequests = errors.New("too many concurrent probes in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// MaxConcurrentRequests bounds probes in half-open state
	MaxConcurrentRequests int
	// IsFailure decides which errors count against the collaborator.
	// Defaults to transient errors only; rejections never trip the breaker.
	IsFailure func(error) bool
	// OnStateChange is called, outside the lock, on every transition
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		IsFailure:             reserrors.IsRetryable,
	}
}

// Stats holds circuit breaker statistics
type Stats struct {
	State             State     `json:"state"`
	TotalRequests     int64     `json:"total_requests"`
	TotalFailures     int64     `json:"total_failures"`
	TotalSuccesses    int64     `json:"total_successes"`
	TotalRejections   int64     `json:"total_rejections"`
	FailureRate       float64   `json:"failure_rate"`
	LastFailureTime   time.Time `json:"last_failure_time"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// CircuitBreaker guards calls to one collaborator. It is safe for
// concurrent use, which bounded batch windows rely on.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu                   sync.Mutex
	state                State
	openedAt             time.Time
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	stats                Stats
}

// New creates a new circuit breaker
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = reserrors.IsRetryable
	}
	return &CircuitBreaker{config: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the circuit is open. Errors from fn are returned
// unchanged; only those IsFailure accepts count towards opening.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	cb.release(probe, callErr)
	return callErr
}

func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.config.Timeout)) {
		transition = cb.setState(StateHalfOpen)
	}

	switch cb.state {
	case StateOpen:
		cb.stats.TotalRejections++
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxConcurrentRequests {
			cb.stats.TotalRejections++
			return false, ErrTooManyConcurrentRequests
		}
		cb.halfOpenInFlight++
		probe = true
	}
	cb.stats.TotalRequests++
	return probe, nil
}

func (cb *CircuitBreaker) release(probe bool, callErr error) {
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	if probe {
		cb.halfOpenInFlight--
	}

	if callErr != nil && cb.config.IsFailure(callErr) {
		cb.stats.TotalFailures++
		cb.stats.LastFailureTime = cb.now()
		cb.consecutiveSuccesses = 0
		cb.consecutiveFailures++
		if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
			transition = cb.setState(StateOpen)
		}
		return
	}

	cb.stats.TotalSuccesses++
	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			transition = cb.setState(StateClosed)
		}
	}
}

// setState must be called with the lock held; the returned callback fires
// the state-change hook and must run after unlocking
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.consecutiveSuccesses = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
	}

	hook := cb.config.OnStateChange
	if hook == nil {
		return nil
	}
	return func() { hook(from, to) }
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.stats
	s.State = cb.state
	s.ConsecutiveErrors = cb.consecutiveFailures
	if s.TotalRequests > 0 {
		s.FailureRate = float64(s.TotalFailures) / float64(s.TotalRequests)
	}
	return s
}

// Reset closes the circuit and clears counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.openedAt = time.Time{}
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.stats = Stats{}
}
