package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/config"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency/memstore"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency/pgstore"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency/redisstore"
	"github.com/tbourn/go-idempotent-orders/internal/repo"
)

// Stores bundles the relational database and the idempotency store selected
// by configuration.
type Stores struct {
	DB   *gorm.DB
	Idem idempotency.Store

	closers []func() error
}

// OpenStores opens the SQLite database and the configured idempotency store.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cfg.DBPath, err)
	}
	st := &Stores{DB: db}
	st.closers = append(st.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	idem, closer, err := openIdempotencyStore(ctx, cfg, db)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Idem = idem
	if closer != nil {
		st.closers = append(st.closers, closer)
	}
	return st, nil
}

// Close releases every connection opened by OpenStores.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openIdempotencyStore(ctx context.Context, cfg config.Config, db *gorm.DB) (idempotency.Store, func() error, error) {
	switch cfg.Idempotency.Store {
	case config.StoreSQLite, "":
		return repo.NewIdempotencyStore(db), nil, nil

	case config.StoreMemory:
		return memstore.New(), nil, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return redisstore.New(client), client.Close, nil

	case config.StorePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pgstore.New(pool), func() error { pool.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown idempotency store %q", cfg.Idempotency.Store)
	}
}

// migrateSchemas creates or upgrades the SQLite tables and, when the
// idempotency store is Postgres, applies its migrations.
func migrateSchemas(cfg config.Config, db *gorm.DB) error {
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	if cfg.Idempotency.Store == config.StorePostgres {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

func newGuard(cfg config.Config, store idempotency.Store, opts ...idempotency.Option) *idempotency.Guard {
	base := []idempotency.Option{
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLockTTL(cfg.Idempotency.LockTTL),
		idempotency.WithWaitTimeout(cfg.Idempotency.WaitTimeout),
		idempotency.WithPollInterval(cfg.Idempotency.PollInterval),
	}
	return idempotency.New(store, append(base, opts...)...)
}
