// Package provider defines the capability contract of the external
// calendar/task service and ships an in-memory implementation used by the
// binaries and tests. The engine never fetches entities through it on its own;
// callers pass the already-fetched set.
package provider

import (
	"context"

	"lerian-entity-resolver/internal/types"
)

// Outcome is the collaborator's answer to one mutation
type Outcome struct {
	Success bool     `json:"success"`
	ID      string   `json:"id,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Collaborator is the provider-agnostic mutation contract. A returned error
// means the call itself failed; a rejection is an Outcome with Success=false.
type Collaborator interface {
	CreateEntity(ctx context.Context, payload types.EntityCreatePayload, userID types.UserID) (*Outcome, error)
	CompleteEntity(ctx context.Context, ref types.EntityRef, completion map[string]interface{}, userID types.UserID) (*Outcome, error)
	UpdateEntity(ctx context.Context, ref types.EntityRef, patch map[string]interface{}, userID types.UserID) (*Outcome, error)
	DeleteEntity(ctx context.Context, ref types.EntityRef, userID types.UserID) (*Outcome, error)
	CreateList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error)
	UpdateList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error)
	DeleteList(ctx context.Context, payload types.ListPayload, userID types.UserID) (*Outcome, error)
}

// EntitySource lists a user's entities. Upstream callers use it to build the
// candidate set they hand to the resolver.
type EntitySource interface {
	Entities(ctx context.Context, userID types.UserID) ([]types.Entity, error)
}

// Succeeded builds a successful outcome
func Succeeded(id string) *Outcome {
	return &Outcome{Success: true, ID: id}
}

// Rejected builds a rejection outcome
func Rejected(errs ...string) *Outcome {
	return &Outcome{Success: false, Errors: errs}
}
