// Package app wires the sync core from config for the CLI commands.
package app

import (
	"context"
	"fmt"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/db"
	"github.com/jmehdipour/city-sync/internal/dispatcher"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/publisher"
	"github.com/jmehdipour/city-sync/internal/recovery"
	"github.com/jmehdipour/city-sync/internal/registry"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/jmehdipour/city-sync/internal/service/citysync"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Core holds the connections and the sync components built on them.
type Core struct {
	Config      config.Config
	MySQL       *sqlx.DB
	ClickHouse  *sqlx.DB // nil when the audit store is unreachable
	Redis       *redis.Client
	Registry    *registry.Registry
	EventLog    repository.EventLogRepository
	Attempts    repository.AttemptsRepository // nil with ClickHouse
	Publisher   *publisher.Publisher
	Coordinator *recovery.Coordinator
	Hooks       *citysync.Service
}

// Build connects MySQL and Redis (required) and ClickHouse (optional), restores
// endpoint state and assembles the publisher, coordinator and hooks.
func Build(ctx context.Context, cfg config.Config) (*Core, error) {
	c := &Core{Config: cfg}

	var err error
	c.MySQL, err = db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	c.Redis, err = db.NewRedisClient(cfg.Redis)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	c.ClickHouse, err = db.NewClickHouseConnection(cfg.ClickHouse)
	if err != nil {
		logger.Log.Warn("clickhouse unavailable, publish audit disabled", zap.Error(err))
		c.ClickHouse = nil
	} else {
		c.Attempts = repository.NewCHAttemptsRepository(c.ClickHouse)
	}

	state := repository.NewRedisEndpointState(c.Redis, cfg.Redis.KeyPrefix)
	c.Registry, err = registry.FromConfig(cfg.Endpoints, state)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("endpoint registry: %w", err)
	}
	if err := c.Registry.Load(ctx); err != nil {
		logger.Log.Warn("endpoint state not restored, using config defaults", zap.Error(err))
	}

	policy := repository.RetryPolicy{MaxRetries: cfg.Sync.MaxRetries, Cooldown: cfg.Sync.Cooldown}
	c.EventLog = repository.NewEventLogRepository(c.MySQL, policy, nil)

	client := dispatcher.NewHTTPClient(dispatcher.HTTPClientOpts{
		IngestPath:      cfg.Sync.IngestPath,
		HealthPath:      cfg.Sync.HealthPath,
		DeliveryTimeout: cfg.Sync.DeliveryTimeout,
		HealthTimeout:   cfg.Sync.HealthTimeout,
		FailThreshold:   cfg.Sync.Breaker.FailThreshold,
		OpenFor:         cfg.Sync.Breaker.OpenFor(),
	})

	builder := publisher.NewBuilder(cfg.ServiceName, nil)
	c.Publisher = publisher.New(c.Registry, client, c.EventLog, publisher.Options{
		MarkProcessed: cfg.Sync.MarkProcessedOnPublish,
		Attempts:      c.Attempts,
	})
	c.Coordinator = recovery.New(c.Registry, client, c.EventLog, repository.NewCitiesRepository(c.MySQL), builder, recovery.Options{
		BatchSize: cfg.Sync.BatchSize,
		Attempts:  c.Attempts,
	})
	c.Hooks = citysync.New(builder, c.EventLog, c.Publisher)

	return c, nil
}

// Close releases every open connection and reports all failures together.
func (c *Core) Close() error {
	var err error
	if c.ClickHouse != nil {
		err = multierr.Append(err, c.ClickHouse.Close())
	}
	if c.Redis != nil {
		err = multierr.Append(err, c.Redis.Close())
	}
	if c.MySQL != nil {
		err = multierr.Append(err, c.MySQL.Close())
	}
	return err
}
