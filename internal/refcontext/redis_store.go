package refcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lerian-entity-resolver/internal/types"
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps each context as a JSON string with a native Redis TTL
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Key returns the Redis key holding userID's context
func (s *RedisStore) Key(userID types.UserID) string {
	return s.prefix + userID.String()
}

// Get loads and decodes the user's context
func (s *RedisStore) Get(ctx context.Context, userID types.UserID) (*ActiveReferenceContext, error) {
	data, err := s.client.Get(ctx, s.Key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get context: %w", err)
	}

	var rc ActiveReferenceContext
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if rc.Expired(s.now()) {
		return nil, ErrContextNotFound
	}
	return &rc, nil
}

// Set encodes rc and writes it with the context's remaining lifetime as TTL
func (s *RedisStore) Set(ctx context.Context, rc *ActiveReferenceContext) error {
	if rc == nil || rc.UserID.IsEmpty() {
		return errors.New("reference context requires a user id")
	}
	now := s.now()
	rc = rc.Clone()
	if rc.ExpiresAt.IsZero() {
		rc.ExpiresAt = now.Add(s.ttl)
	}
	ttl := remaining(rc, now, s.ttl)
	if ttl <= 0 {
		return s.Delete(ctx, rc.UserID)
	}

	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(rc.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set context: %w", err)
	}
	return nil
}

// Delete removes the user's context
func (s *RedisStore) Delete(ctx context.Context, userID types.UserID) error {
	if err := s.client.Del(ctx, s.Key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete context: %w", err)
	}
	return nil
}
