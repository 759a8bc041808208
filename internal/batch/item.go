package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lerian-entity-resolver/internal/circuitbreaker"
	reserrors "lerian-entity-resolver/internal/errors"
	"lerian-entity-resolver/internal/provider"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/validation"
)

// itemOutcome is either succeeded or failed
type itemOutcome interface {
	isOutcome()
}

type succeeded struct{ item types.SucceededItem }

type failed struct{ item types.FailedItem }

func (succeeded) isOutcome() {}
func (failed) isOutcome()    {}

// PanicError is recorded when the collaborator panics during a call
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("collaborator panicked: %v", e.Value)
}

// rejection carries a collaborator answer with Success=false through the
// retry loop without being retried
type rejection struct {
	err     error
	reasons []string
}

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// executeItem validates and dispatches a single operation. It never panics
// and never returns an error: every failure becomes a failed outcome.
func (o *Orchestrator) executeItem(ctx context.Context, mode types.ExecutionMode, index int, op types.Operation, userID types.UserID) itemOutcome {
	log := o.logger.WithContext(ctx)

	if res := validation.ValidateOperation(op); !res.IsValid {
		o.metrics.RecordItem(string(mode), string(op.Type), "failed")
		log.Warn("Operation failed validation",
			"index", index,
			"type", string(op.Type),
			"errors", strings.Join(res.Errors, "; "),
		)
		return failed{item: types.FailedItem{
			Index:   index,
			Type:    op.Type,
			Payload: op.Payload,
			Kind:    types.FailureValidation,
			Error:   strings.Join(res.Errors, "; "),
			Errors:  res.Errors,
		}}
	}

	var outcome *provider.Outcome
	res := o.retrier.Do(ctx, func(ctx context.Context) error {
		return o.guard(ctx, func(ctx context.Context) error {
			out, err := o.dispatch(ctx, op, userID)
			if err != nil {
				return err
			}
			if !out.Success {
				return &rejection{err: reserrors.WrapRejection(string(op.Type), out.Errors), reasons: out.Errors}
			}
			outcome = out
			return nil
		})
	})
	o.metrics.RecordRetries(string(op.Type), res.Attempts-1)

	if res.Err == nil {
		o.metrics.RecordItem(string(mode), string(op.Type), "succeeded")
		return succeeded{item: types.SucceededItem{
			Index:    index,
			Type:     op.Type,
			Payload:  op.Payload,
			EntityID: outcome.ID,
			Attempts: res.Attempts,
		}}
	}

	o.metrics.RecordItem(string(mode), string(op.Type), "failed")
	item := types.FailedItem{
		Index:    index,
		Type:     op.Type,
		Payload:  op.Payload,
		Kind:     types.FailureError,
		Error:    res.Err.Error(),
		Attempts: res.Attempts,
	}

	var rej *rejection
	var pe *PanicError
	switch {
	case errors.As(res.Err, &rej):
		item.Kind = types.FailureRejected
		item.Error = "operation rejected by provider"
		if len(rej.reasons) > 0 {
			item.Error = strings.Join(rej.reasons, "; ")
		}
		item.Errors = rej.reasons
	case errors.As(res.Err, &pe):
		item.Kind = types.FailurePanic
	}

	log.LogError("Operation failed", res.Err,
		"index", index,
		"type", string(op.Type),
		"kind", string(item.Kind),
		"attempts", res.Attempts,
	)
	return failed{item: item}
}

// guard runs fn under the circuit breaker when one is configured
func (o *Orchestrator) guard(ctx context.Context, fn func(context.Context) error) error {
	if o.breaker == nil {
		return fn(ctx)
	}
	err := o.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyConcurrentRequests) {
		return fmt.Errorf("collaborator unavailable: %w", err)
	}
	return err
}

// dispatch performs one collaborator call, turning panics into errors and
// call errors into categorised collaborator errors
func (o *Orchestrator) dispatch(ctx context.Context, op types.Operation, userID types.UserID) (out *provider.Outcome, err error) {
	start := o.now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &PanicError{Value: r}
			status = "panic"
		}
		o.metrics.ObserveCollaboratorCall(string(op.Type), status, o.now().Sub(start))
	}()

	out, err = o.call(ctx, op, userID)
	switch {
	case err != nil:
		status = "error"
		return nil, reserrors.WrapCollaboratorError(err, string(op.Type))
	case out == nil:
		status = "error"
		return nil, reserrors.WrapCollaboratorError(errors.New("collaborator returned no outcome"), string(op.Type))
	case !out.Success:
		status = "rejected"
	}
	return out, nil
}

func (o *Orchestrator) call(ctx context.Context, op types.Operation, userID types.UserID) (*provider.Outcome, error) {
	c := o.collaborator

	switch op.Type {
	case types.OperationCreateEntity:
		p, err := validation.DecodeEntityCreate(op.Payload)
		if err != nil {
			return nil, err
		}
		return c.CreateEntity(ctx, p, userID)

	case types.OperationCompleteEntity, types.OperationUpdateEntity, types.OperationDeleteEntity:
		p, err := validation.DecodeEntityMutation(op.Payload)
		if err != nil {
			return nil, err
		}
		switch op.Type {
		case types.OperationCompleteEntity:
			return c.CompleteEntity(ctx, p.EntityRef, p.Completion, userID)
		case types.OperationUpdateEntity:
			return c.UpdateEntity(ctx, p.EntityRef, p.Patch, userID)
		default:
			return c.DeleteEntity(ctx, p.EntityRef, userID)
		}

	case types.OperationCreateList, types.OperationUpdateList, types.OperationDeleteList:
		p, err := validation.DecodeList(op.Payload)
		if err != nil {
			return nil, err
		}
		switch op.Type {
		case types.OperationCreateList:
			return c.CreateList(ctx, p, userID)
		case types.OperationUpdateList:
			return c.UpdateList(ctx, p, userID)
		default:
			return c.DeleteList(ctx, p, userID)
		}
	}

	return nil, fmt.Errorf("unsupported operation type %q", op.Type)
}
