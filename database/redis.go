// Package database provides the Redis client and the Redis-backed polygon
// store.
package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cobrun/geofence/config"
	"github.com/cobrun/geofence/logging"
)

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	TLSEnabled   bool
	PoolSize     int
	MinIdleConn  int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     20,
		MinIdleConn:  2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisConfigFrom takes the Redis settings out of the service configuration.
func RedisConfigFrom(cfg *config.Config) RedisConfig {
	rc := DefaultRedisConfig()
	rc.Host = cfg.RedisHost
	rc.Port = cfg.RedisPort
	rc.Password = cfg.RedisPassword
	rc.DB = cfg.RedisDB
	rc.TLSEnabled = cfg.RedisTLS
	return rc
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Options converts the configuration to go-redis options. Command retries
// are left to the store so that they are traced and counted.
func (c RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConn,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxRetries:   -1,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts
}

// RedisClient wraps the Redis client.
type RedisClient struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisClient creates a Redis client and waits for the server to answer a
// PING, retrying with exponential backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig, retry RetryConfig, logger *logging.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client := redis.NewClient(cfg.Options())

	err := RetryNotify(ctx, retry, func() error {
		return client.Ping(ctx).Err()
	}, func(err error, next time.Duration) {
		logger.WarnContext(ctx, "redis not ready, retrying",
			"addr", cfg.Addr(),
			"error", err.Error(),
			"retry_in", next.String(),
		)
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	return &RedisClient{
		client: client,
		config: cfg,
	}, nil
}

// Client returns the underlying redis client.
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Ping checks the connection.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
