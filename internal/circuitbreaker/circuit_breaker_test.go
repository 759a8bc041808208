package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
)

var (
	errTransient = reserrors.WrapCollaboratorError(errors.New("503 service unavailable"), "create_entity")
	errRejected  = reserrors.WrapRejection("create_entity", []string{"list does not exist"})
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(cfg *Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cb := New(cfg)
	cb.now = clock.Now
	return cb, clock
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeed(context.Context) error { return nil }

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb, _ := newBreaker(&Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Second})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail(errTransient))
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to remain closed, got: %v", cb.GetState())
	}

	// a success resets the run of failures
	_ = cb.Execute(ctx, succeed)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, fail(errTransient))
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to remain closed after reset, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_RejectionsDoNotTrip(t *testing.T) {
	cb, _ := newBreaker(&Config{FailureThreshold: 2, Timeout: time.Second})

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), fail(errRejected))
		if !errors.Is(err, errRejected) {
			t.Fatalf("Expected the rejection to pass through, got: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected rejections to leave the circuit closed, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.TotalFailures != 0 || stats.TotalSuccesses != 10 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestCircuitBreaker_OpenHalfOpenClosed(t *testing.T) {
	var transitions []string
	cb, clock := newBreaker(&Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail(errTransient))
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state to be open, got: %v", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Expected fast failure without calling, got err=%v called=%v", err, called)
	}

	clock.Advance(30 * time.Second)
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Fatalf("Expected probe %d to pass, got: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("Expected state to be closed, got: %v", cb.GetState())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("Expected transitions %v, got %v", want, transitions)
	}

	stats := cb.GetStats()
	if stats.TotalRejections != 1 || stats.TotalFailures != 3 || stats.TotalRequests != 5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newBreaker(&Config{FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail(errTransient))
	clock.Advance(time.Minute)

	if err := cb.Execute(ctx, fail(errTransient)); !errors.Is(err, errTransient) {
		t.Fatalf("Expected the probe to run and fail, got: %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected a failed probe to reopen, got: %v", cb.GetState())
	}

	clock.Advance(59 * time.Second)
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected the cool-down to restart, got: %v", err)
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newBreaker(&Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxConcurrentRequests: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail(errTransient))
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrTooManyConcurrentRequests) {
		t.Errorf("Expected a second probe to be refused, got: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Expected the probe to succeed, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb, _ := newBreaker(&Config{FailureThreshold: 1000, Timeout: time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	var calls int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(ctx, func(context.Context) error {
				atomic.AddInt64(&calls, 1)
				if i%2 == 0 {
					return errTransient
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	if calls != 50 || stats.TotalRequests != 50 || stats.TotalFailures != 25 {
		t.Errorf("Unexpected counts: calls=%d stats=%+v", calls, stats)
	}
	if stats.FailureRate != 0.5 {
		t.Errorf("Expected failure rate 0.5, got %v", stats.FailureRate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newBreaker(&Config{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), fail(errTransient))
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open, got: %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed after reset, got: %v", cb.GetState())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected call to pass after reset, got: %v", err)
	}
	if stats := cb.GetStats(); stats.TotalRequests != 1 {
		t.Errorf("Expected stats to be cleared, got %+v", stats)
	}
}
