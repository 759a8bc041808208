package refcontext

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"lerian-entity-resolver/internal/types"
)

// MemoryStore keeps contexts in a size-bounded LRU whose entries expire after ttl
type MemoryStore struct {
	cache *expirable.LRU[types.UserID, *ActiveReferenceContext]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most size users
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		cache: expirable.NewLRU[types.UserID, *ActiveReferenceContext](size, nil, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns a copy of the user's live context
func (s *MemoryStore) Get(_ context.Context, userID types.UserID) (*ActiveReferenceContext, error) {
	rc, ok := s.cache.Get(userID)
	if !ok {
		return nil, ErrContextNotFound
	}
	if rc.Expired(s.now()) {
		s.cache.Remove(userID)
		return nil, ErrContextNotFound
	}
	return rc.Clone(), nil
}

// Set stores a copy of rc, replacing any previous context of the user
func (s *MemoryStore) Set(_ context.Context, rc *ActiveReferenceContext) error {
	if rc == nil || rc.UserID.IsEmpty() {
		return errors.New("reference context requires a user id")
	}
	stored := rc.Clone()
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = s.now().Add(s.ttl)
	}
	s.cache.Add(stored.UserID, stored)
	return nil
}

// Delete removes the user's context
func (s *MemoryStore) Delete(_ context.Context, userID types.UserID) error {
	s.cache.Remove(userID)
	return nil
}

// Len returns the number of stored contexts
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
