package logging

import (
	"context"
	"errors"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
)

// ComponentLogger wraps a Logger with helpers used around batch items and
// resolutions
type ComponentLogger struct {
	Logger
	component string
}

// NewComponentLogger scopes base to a component; a nil base yields a no-op logger
func NewComponentLogger(base Logger, component string) *ComponentLogger {
	if base == nil {
		base = NewNoOpLogger()
	}
	return &ComponentLogger{
		Logger:    base.WithComponent(component),
		component: component,
	}
}

// WithContext returns a logger carrying the trace ID found in ctx
func (l *ComponentLogger) WithContext(ctx context.Context) *ComponentLogger {
	return &ComponentLogger{
		Logger:    l.Logger.WithTraceID(GetTraceID(ctx)),
		component: l.component,
	}
}

// LogError logs err, expanding enhanced errors into their category fields
func (l *ComponentLogger) LogError(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	var enhanced *reserrors.EnhancedError
	if errors.As(err, &enhanced) {
		fields = append(fields,
			"error", enhanced.Err.Error(),
			"category", string(enhanced.GetCategory()),
			"retryable", enhanced.IsRetryable(),
			"operation", enhanced.Context.Operation,
		)
	} else {
		fields = append(fields, "error", err.Error())
	}
	l.Error(msg, fields...)
}

// LogOperation logs the start and completion of an operation
func (l *ComponentLogger) LogOperation(ctx context.Context, operation string, fn func() error) error {
	startTime := time.Now()
	l.DebugContext(ctx, "Starting operation", "operation", operation)

	err := fn()
	duration := time.Since(startTime)

	if err != nil {
		l.WarnContext(ctx, "Operation failed",
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return err
	}

	l.DebugContext(ctx, "Operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}
