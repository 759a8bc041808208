// Package batch executes sequences of typed operations against the
// collaborator, sequentially or in bounded concurrent windows. Every item is
// isolated: a failing item is recorded and the batch carries on.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lerian-entity-resolver/internal/circuitbreaker"
	"lerian-entity-resolver/internal/config"
	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/monitoring"
	"lerian-entity-resolver/internal/provider"
	"lerian-entity-resolver/internal/retry"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/validation"
)

// Config holds orchestrator settings
type Config struct {
	// MaxBatchSize bounds the number of operations in one batch
	MaxBatchSize int
	// MaxConcurrency is the window size used when Options leave it unset
	MaxConcurrency int
	// Retry is the per-item retry policy; nil means a single attempt
	Retry *retry.Config
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   validation.DefaultMaxBatchSize,
		MaxConcurrency: 3,
	}
}

// FromAppConfig converts the application batch settings
func FromAppConfig(cfg config.BatchConfig) Config {
	out := DefaultConfig()
	if cfg.MaxBatchSize > 0 {
		out.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxConcurrency > 0 {
		out.MaxConcurrency = cfg.MaxConcurrency
	}
	if cfg.RetryAttempts > 1 {
		out.Retry = retry.ForBatch(cfg.RetryAttempts, time.Duration(cfg.RetryInitialDelayMs)*time.Millisecond)
	}
	return out
}

// Options tune a single bounded execution
type Options struct {
	MaxConcurrency int
}

// Orchestrator runs batches; it is safe for concurrent use
type Orchestrator struct {
	collaborator provider.Collaborator
	config       Config
	retrier      *retry.Retrier
	breaker      *circuitbreaker.CircuitBreaker
	logger       *logging.ComponentLogger
	metrics      *monitoring.Metrics
	now          func() time.Time
	newID        func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.NewComponentLogger(logger, "batch") }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCircuitBreaker guards every collaborator call with cb
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(o *Orchestrator) { o.breaker = cb }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator calling collaborator
func New(collaborator provider.Collaborator, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = validation.DefaultMaxBatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		c := *cfg.Retry
		retryCfg = &c
	}
	retryIf := retryCfg.RetryIf
	if retryIf == nil {
		retryIf = reserrors.IsRetryable
	}
	retryCfg.RetryIf = func(err error) bool {
		var pe *PanicError
		if errors.As(err, &pe) || errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return false
		}
		return retryIf(err)
	}

	o := &Orchestrator{
		collaborator: collaborator,
		config:       cfg,
		retrier:      retry.New(retryCfg),
		logger:       logging.NewComponentLogger(nil, "batch"),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator configuration
func (o *Orchestrator) Config() Config {
	return o.config
}

// ExecuteBatch runs ops one after another: operation N+1 starts only after
// N has been recorded. The error is non-nil only for malformed input.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, ops []types.Operation, userID types.UserID) (*types.BatchResult, error) {
	if err := o.checkEnvelope(ops, userID); err != nil {
		return nil, err
	}

	run := o.begin(ctx, types.ModeSequential, userID, len(ops))
	for i, op := range ops {
		run.record(o.executeItem(run.ctx, run.mode, i, op, userID))
	}
	return o.finish(run), nil
}

// ExecuteBatchBounded partitions ops into consecutive windows of
// MaxConcurrency items, runs each window concurrently and waits for the
// whole window before starting the next.
func (o *Orchestrator) ExecuteBatchBounded(ctx context.Context, ops []types.Operation, userID types.UserID, opts Options) (*types.BatchResult, error) {
	if err := o.checkEnvelope(ops, userID); err != nil {
		return nil, err
	}

	size := opts.MaxConcurrency
	if size <= 0 {
		size = o.config.MaxConcurrency
	}

	run := o.begin(ctx, types.ModeBounded, userID, len(ops))
	for start := 0; start < len(ops); start += size {
		end := start + size
		if end > len(ops) {
			end = len(ops)
		}

		window := make([]itemOutcome, end-start)
		var g errgroup.Group
		g.SetLimit(size)
		for i := start; i < end; i++ {
			g.Go(func() error {
				window[i-start] = o.executeItem(run.ctx, run.mode, i, ops[i], userID)
				return nil
			})
		}
		_ = g.Wait()

		for _, out := range window {
			run.record(out)
		}
		run.windows = append(run.windows, len(window))
		o.metrics.RecordWindow(string(run.mode))
	}
	return o.finish(run), nil
}

func (o *Orchestrator) checkEnvelope(ops []types.Operation, userID types.UserID) error {
	var errs []string
	if res := validation.ValidateUserID(userID); !res.IsValid {
		errs = append(errs, res.Errors...)
	}
	if res := validation.ValidateBatchEnvelope(ops, o.config.MaxBatchSize); !res.IsValid {
		errs = append(errs, res.Errors...)
	}
	if len(errs) == 0 {
		return nil
	}
	return reserrors.NewSystemicError(errs[0], errs)
}

// batchRun accumulates one batch. It is only touched by the goroutine that
// called Execute*, after each window barrier in bounded mode.
type batchRun struct {
	ctx     context.Context
	mode    types.ExecutionMode
	result  *types.BatchResult
	windows []int
}

func (o *Orchestrator) begin(ctx context.Context, mode types.ExecutionMode, userID types.UserID, n int) *batchRun {
	id := o.newID()
	if logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, id)
	}
	start := o.now()

	o.logger.WithContext(ctx).Info("Batch started",
		"batch_id", id,
		"mode", string(mode),
		"operations", n,
		"user_id", userID.String(),
	)

	return &batchRun{
		ctx:  ctx,
		mode: mode,
		result: &types.BatchResult{
			ID:         id,
			UserID:     userID,
			Successful: make([]types.SucceededItem, 0, n),
			Failed:     make([]types.FailedItem, 0),
			Summary: types.BatchSummary{
				Total:     n,
				StartTime: start,
				Mode:      mode,
			},
		},
	}
}

func (r *batchRun) record(out itemOutcome) {
	switch v := out.(type) {
	case succeeded:
		r.result.Successful = append(r.result.Successful, v.item)
		r.result.Summary.Successful++
	case failed:
		r.result.Failed = append(r.result.Failed, v.item)
		r.result.Summary.Failed++
	}
}

func (o *Orchestrator) finish(r *batchRun) *types.BatchResult {
	r.result.Summary.EndTime = o.now()
	r.result.Summary.WindowSizes = r.windows
	o.metrics.ObserveBatch(string(r.mode), r.result.Summary.Duration())

	o.logger.WithContext(r.ctx).Info("Batch completed",
		"batch_id", r.result.ID,
		"mode", string(r.mode),
		"total", r.result.Summary.Total,
		"successful", r.result.Summary.Successful,
		"failed", r.result.Summary.Failed,
		"duration_ms", r.result.Summary.Duration().Milliseconds(),
	)
	return r.result
}
