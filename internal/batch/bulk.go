package batch

import (
	"context"

	"lerian-entity-resolver/internal/types"
)

func (o *Orchestrator) bulk(ctx context.Context, opType types.OperationType, payloads []map[string]interface{}, userID types.UserID) (*types.BatchResult, error) {
	var ops []types.Operation
	if payloads != nil {
		ops = make([]types.Operation, len(payloads))
		for i, p := range payloads {
			ops[i] = types.Operation{Type: opType, Payload: p}
		}
	}
	return o.ExecuteBatch(ctx, ops, userID)
}

// BulkCreate creates one entity per payload, sequentially
func (o *Orchestrator) BulkCreate(ctx context.Context, payloads []map[string]interface{}, userID types.UserID) (*types.BatchResult, error) {
	return o.bulk(ctx, types.OperationCreateEntity, payloads, userID)
}

// BulkComplete completes one entity per reference payload
func (o *Orchestrator) BulkComplete(ctx context.Context, refs []map[string]interface{}, userID types.UserID) (*types.BatchResult, error) {
	return o.bulk(ctx, types.OperationCompleteEntity, refs, userID)
}

// BulkUpdate applies one patch payload ({id|title, patch}) per entity
func (o *Orchestrator) BulkUpdate(ctx context.Context, updates []map[string]interface{}, userID types.UserID) (*types.BatchResult, error) {
	return o.bulk(ctx, types.OperationUpdateEntity, updates, userID)
}

// BulkDelete deletes one entity per reference payload
func (o *Orchestrator) BulkDelete(ctx context.Context, refs []map[string]interface{}, userID types.UserID) (*types.BatchResult, error) {
	return o.bulk(ctx, types.OperationDeleteEntity, refs, userID)
}
