package refcontext

import (
	"context"
	"fmt"

	"lerian-entity-resolver/internal/config"
)

// Open builds the store selected by cfg. The returned close function releases
// the backing connection and is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Provider {
	case config.StoreMemory, "":
		return NewMemoryStore(cfg.MemorySize, cfg.TTL()), noop, nil

	case config.StoreRedis:
		client, err := NewRedisClient(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, noop, err
		}
		return NewRedisStore(client, cfg.RedisKeyPrefix, cfg.TTL()), client.Close, nil

	case config.StoreSQLite, config.StorePostgres:
		open, dialect := OpenSQLite, DialectSQLite
		target := cfg.SQLitePath
		if cfg.Provider == config.StorePostgres {
			open, dialect, target = OpenPostgres, DialectPostgres, cfg.PostgresDSN
		}
		db, err := open(target)
		if err != nil {
			return nil, noop, err
		}
		store, err := NewSQLStore(ctx, db, dialect, cfg.TTL())
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, db.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store provider: %s", cfg.Provider)
	}
}
