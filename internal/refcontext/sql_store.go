package refcontext

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"lerian-entity-resolver/internal/types"
)

// Dialect selects placeholder syntax for SQLStore
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const contextSchema = `
CREATE TABLE IF NOT EXISTS reference_contexts (
	user_id    TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`

// SQLStore keeps contexts in a single table, one row per user
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	ttl     time.Duration
	now     func() time.Time
}

// OpenSQLite opens a SQLite database file; use ":memory:" for tests
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(string(DialectSQLite), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// every :memory: connection is its own database
	db.SetMaxOpenConns(1)
	return db, nil
}

// OpenPostgres opens a PostgreSQL connection pool
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(DialectPostgres), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewSQLStore creates the table if needed and returns a store over db
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, ttl time.Duration) (*SQLStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.ExecContext(ctx, contextSchema); err != nil {
		return nil, fmt.Errorf("failed to create reference_contexts table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, ttl: ttl, now: time.Now}, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the user's live context; stale rows are removed on read
func (s *SQLStore) Get(ctx context.Context, userID types.UserID) (*ActiveReferenceContext, error) {
	var payload string
	var expiresAt int64
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT payload, expires_at FROM reference_contexts WHERE user_id = ?"),
		userID.String())
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContextNotFound
		}
		return nil, fmt.Errorf("query context: %w", err)
	}

	if !s.now().Before(time.Unix(0, expiresAt)) {
		_ = s.Delete(ctx, userID)
		return nil, ErrContextNotFound
	}

	var rc ActiveReferenceContext
	if err := json.Unmarshal([]byte(payload), &rc); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &rc, nil
}

// Set upserts the user's context
func (s *SQLStore) Set(ctx context.Context, rc *ActiveReferenceContext) error {
	if rc == nil || rc.UserID.IsEmpty() {
		return errors.New("reference context requires a user id")
	}
	now := s.now()
	rc = rc.Clone()
	if rc.ExpiresAt.IsZero() {
		rc.ExpiresAt = now.Add(s.ttl)
	}

	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	query := s.rebind(`INSERT INTO reference_contexts (user_id, payload, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
	payload = excluded.payload,
	expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, rc.UserID.String(), string(data), rc.ExpiresAt.UnixNano(), now.UnixNano()); err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

// Delete removes the user's context
func (s *SQLStore) Delete(ctx context.Context, userID types.UserID) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM reference_contexts WHERE user_id = ?"), userID.String()); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}

// PurgeExpired deletes every stale row and returns how many were removed
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM reference_contexts WHERE expires_at <= ?"),
		s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge contexts: %w", err)
	}
	return result.RowsAffected()
}
