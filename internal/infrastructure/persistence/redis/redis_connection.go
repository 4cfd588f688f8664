// Package redis provides the Redis connection and the Redis-backed counter store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

// Connection manages the Redis client lifecycle. A single address connects to a
// standalone server; several addresses connect to a cluster.
type Connection struct {
	config *config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection creates the client and verifies connectivity.
func NewConnection(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	if cfg == nil || len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: redis addresses not configured", errors.ErrInvalidConfig)
	}
	log = log.WithComponent("redis")

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	conn := &Connection{config: cfg, client: client, logger: log}
	if err := conn.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info(ctx, "Redis connection established",
		logger.Int("addresses", len(cfg.Addresses)),
		logger.Int("pool_size", cfg.PoolSize),
	)
	return conn, nil
}

// NewConnectionFromClient wraps an existing client.
func NewConnectionFromClient(client redis.UniversalClient, log logger.Logger) *Connection {
	return &Connection{config: &config.RedisConfig{}, client: client, logger: log.WithComponent("redis")}
}

// Client returns the underlying client.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// Ping verifies connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(pingCtx).Err(); err != nil {
		c.logger.Error(ctx, "Redis ping failed", err)
		return errors.ErrStoreUnavailable("redis ping failed").WithCause(err)
	}
	return nil
}

// HealthCheck reports pool statistics.
func (c *Connection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	stats := c.client.PoolStats()
	return map[string]interface{}{
		"status":      "healthy",
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
	}, nil
}

// Close closes the client.
func (c *Connection) Close() error {
	c.logger.Info(context.Background(), "Closing Redis connection")
	return c.client.Close()
}
