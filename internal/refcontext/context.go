// Package refcontext holds the per-user active reference context: the entity
// a user last created or changed, kept so the next turn can refer back to it.
// Stores are injected into the resolver; all implementations are safe for
// concurrent use.
package refcontext

import (
	"context"
	"errors"
	"time"

	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/similarity"
	"lerian-entity-resolver/internal/types"
)

// DefaultTTL is how long a context stays usable after it was written
const DefaultTTL = 24 * time.Hour

// ErrContextNotFound is returned when a user has no live context
var ErrContextNotFound = errors.New("reference context not found")

// ActiveReferenceContext is the last entity a user mutated, with a frozen
// snapshot of the conversation analysis taken at that moment
type ActiveReferenceContext struct {
	UserID        types.UserID                 `json:"user_id"`
	EntityID      string                       `json:"entity_id"`
	Title         string                       `json:"title"`
	Kind          types.EntityKind             `json:"kind"`
	Date          string                       `json:"date,omitempty"`
	Time          string                       `json:"time,omitempty"`
	OriginMessage string                       `json:"origin_message,omitempty"`
	Pattern       patterns.ConversationPattern `json:"pattern"`
	Behavior      patterns.BehaviorType        `json:"behavior"`
	ContextDepth  float64                      `json:"context_depth"`
	CreatedAt     time.Time                    `json:"created_at"`
	ExpiresAt     time.Time                    `json:"expires_at"`
}

// New builds a context for entity. The pattern is snapshotted so later
// analysis never mutates what was stored.
func New(userID types.UserID, entity types.Entity, originMessage string, pattern patterns.ConversationPattern,
	behavior patterns.BehaviorType, now time.Time, ttl time.Duration) *ActiveReferenceContext {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	snap := pattern.Snapshot()
	return &ActiveReferenceContext{
		UserID:        userID,
		EntityID:      entity.ID,
		Title:         similarity.StripGlyphs(entity.Title),
		Kind:          entity.Kind,
		Date:          entity.DateKey(),
		Time:          entity.TimeKey(),
		OriginMessage: originMessage,
		Pattern:       snap,
		Behavior:      behavior,
		ContextDepth:  snap.ContextDepth,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// Expired reports whether the context is stale at now
func (c *ActiveReferenceContext) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy
func (c *ActiveReferenceContext) Clone() *ActiveReferenceContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Pattern = c.Pattern.Snapshot()
	return &out
}

// Store persists one context per user
type Store interface {
	Get(ctx context.Context, userID types.UserID) (*ActiveReferenceContext, error)
	Set(ctx context.Context, rc *ActiveReferenceContext) error
	Delete(ctx context.Context, userID types.UserID) error
}

func remaining(rc *ActiveReferenceContext, now time.Time, fallback time.Duration) time.Duration {
	if rc.ExpiresAt.IsZero() {
		return fallback
	}
	return rc.ExpiresAt.Sub(now)
}
