package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/app/storage/memory"
	"github.com/R3E-Network/basket_oracle/internal/app/storage/postgres"
	"github.com/R3E-Network/basket_oracle/internal/app/storage/redis"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/internal/platform/migrations"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Feeds     storage.FeedStore
	Proposals storage.ProposalStore

	closer func() error
}

// Close releases the connection behind the stores, if any.
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// OpenStores connects the configured storage driver. Postgres schemas are
// migrated before use.
func OpenStores(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Stores, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		mem := memory.New()
		return Stores{Feeds: mem, Proposals: mem}, nil

	case config.DriverPostgres:
		db, err := openDatabase(ctx, cfg.PostgresDSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return Stores{}, err
		}
		store := postgres.New(db)
		log.Info("using postgres storage")
		return Stores{Feeds: store, Proposals: store, closer: db.Close}, nil

	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return Stores{}, fmt.Errorf("ping redis: %w", err)
		}
		store := redis.New(client, cfg.RedisPrefix)
		log.WithField("prefix", cfg.RedisPrefix).Info("using redis storage")
		return Stores{Feeds: store, Proposals: store, closer: client.Close}, nil

	default:
		return Stores{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
